package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/civic-workflow/internal/application/notification"
	"github.com/garyjia/civic-workflow/internal/config"
	"github.com/garyjia/civic-workflow/internal/container"
	"github.com/garyjia/civic-workflow/internal/domain/event"
	"github.com/garyjia/civic-workflow/internal/domain/workflow"
	"github.com/garyjia/civic-workflow/internal/infrastructure/external/lark"
)

// Operational check for the Lark outbound channel. Sends a rendered sample
// transition notice, or runs one retry pass over failed deliveries.
//
// Usage:
//
//	notify-check -open-id ou_xxx
//	notify-check -retry

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	openID := flag.String("open-id", "", "Lark open_id to send the sample notice to")
	retry := flag.Bool("retry", false, "retry failed outbound deliveries once and exit")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	fmt.Println("=== Lark Notification Check ===")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Lark.AppID == "" || cfg.Lark.AppSecret == "" {
		log.Fatal("Lark credentials are not configured (LARK_APP_ID / LARK_APP_SECRET)")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *retry {
		if err := retryFailed(ctx, cfg, logger); err != nil {
			log.Fatalf("Retry failed: %v", err)
		}
		return
	}

	if *openID == "" {
		fmt.Println("Usage: notify-check -open-id <open_id> | -retry")
		os.Exit(2)
	}

	sdk := lark.NewSDKClient(lark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		BaseURL:   cfg.Lark.BaseURL,
	}, logger)
	messenger := lark.NewMessenger(sdk, nil, logger)

	sample := event.NewTransitionEvent(event.Transition{
		Kind:     workflow.KindPermit,
		EntityID: "CHECK-1",
		ActorID:  "notify-check",
		OldState: workflow.StatePending,
		NewState: workflow.StateApproved,
	})
	text := notification.RenderMessage(sample)
	fmt.Printf("Sending: %s\n", text)

	msgID, err := messenger.SendText(ctx, *openID, text)
	if err != nil {
		log.Fatalf("✗ Failed to send message: %v", err)
	}
	fmt.Printf("✓ Message sent! message_id: %s\n", msgID)
}

// retryFailed starts the full container with Lark enabled and runs one retry pass
func retryFailed(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	cfg.Lark.Enabled = true

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	delivered, err := c.Notifier().RetryFailed(ctx, cfg.Notification.MaxOutboundAttempts, cfg.Notification.RetryBatchSize)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Redelivered %d notification(s)\n", delivered)
	return nil
}
