package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"clubops/internal/config"
	"clubops/internal/directory"
	"clubops/internal/queue"
	"clubops/internal/registration"
	"clubops/internal/store"
)

// Worker consumes attendance events and appends speech-log history for
// members who completed a speaking role.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if cfg.Env == "dev" {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar().Named("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infow("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("db connect failed", "error", err)
	}
	defer func() { _ = db.Close() }()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "clubops:events")
	}

	dir := directory.New(cfg.DirectoryURL, cfg.DirectorySkip)
	repo := registration.NewRepository(db.Client)
	regs := registration.NewService(log, repo, dir)

	if !cfg.DirectorySkip {
		if err := dir.Health(ctx); err != nil {
			log.Warnw("directory not available, lookups will be retried per event", "error", err)
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalw("queue consume init failed", "error", err)
	}

	log.Infow("worker started, waiting for messages")
	for msg := range messages {
		if msg.Type != queue.TypeAttendance {
			continue
		}
		if err := handleAttendance(ctx, log, regs, dir, msg.Body); err != nil {
			log.Warnw("attendance event failed", "error", err, "registration_id", msg.Body)
		}
	}

	log.Infow("worker stopped")
}

// handleAttendance records a speech-log entry when an attended registration
// held a speaking role and named its speech.
func handleAttendance(ctx context.Context, log *zap.SugaredLogger, regs *registration.Service, dir *directory.Client, registrationID string) error {
	reg, err := regs.GetByID(ctx, registrationID)
	if err != nil {
		return err
	}
	if reg == nil || reg.Status != registration.StatusAttended {
		return nil
	}
	if reg.RoleID == nil || reg.SpeechTitle == nil || *reg.SpeechTitle == "" {
		return nil
	}

	role, err := dir.Role(ctx, *reg.RoleID)
	if err != nil {
		return err
	}
	if role == nil || !strings.HasPrefix(role.Name, "Speaker") {
		return nil
	}

	// Operator corrections can replay the same event; an existing entry for
	// the same title means the speech is already on record.
	history, err := regs.Speeches(ctx, reg.UserID)
	if err != nil {
		return err
	}
	for _, entry := range history {
		if entry.SpeechName == *reg.SpeechTitle {
			return nil
		}
	}

	entry, err := regs.RecordSpeech(ctx, reg.UserID, *reg.SpeechTitle, reg.UserID)
	if err != nil {
		return err
	}
	log.Infow("speech logged", "user_id", reg.UserID, "speech_no", entry.SpeechNo, "title", entry.SpeechName)
	return nil
}
