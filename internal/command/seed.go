package command

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ferrowell/parley/chatsdk"
	"github.com/ferrowell/parley/internal/simsdk"
)

// NewSeedCmd creates the seed command, which writes synthetic confirmed
// messages into the local cache. The next chat run paints them before the
// simulated server's truth replaces them, which makes the cache-then-API
// handoff visible.
func NewSeedCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write synthetic history into the local message cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadForCommand(cmd)
			if err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("count must be positive, got %d", count)
			}
			log, err := newLogger(cfg.Debug)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			cachePath, err := resolveCachePath(cfg)
			if err != nil {
				return err
			}
			cache, err := simsdk.OpenCache(cachePath, log)
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			defer func() { _ = cache.Close() }()

			if err := cache.Put(cfg.ChannelURL, seedMessages(cfg, count)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d cached messages for %s at %s\n",
				count, cfg.ChannelURL, cachePath)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 25, "messages to seed")
	addChatFlags(cmd)
	return cmd
}

// seedMessages builds count confirmed messages, one a minute, ending an hour
// ago so a later chat session's live history sorts after them.
func seedMessages(cfg Config, count int) []chatsdk.Message {
	base := time.Now().Add(-time.Duration(count+60) * time.Minute)
	msgs := make([]chatsdk.Message, 0, count)
	for i := 0; i < count; i++ {
		sender := cfg.ViewerID
		if i%3 != 0 {
			sender = defaultRoster[peerNames[i%len(peerNames)]]
		}
		msgs = append(msgs, chatsdk.Message{
			MessageID:  int64(i + 1),
			Type:       chatsdk.MessageTypeUser,
			ChannelURL: cfg.ChannelURL,
			SenderID:   sender,
			Body:       fmt.Sprintf("cached backlog %d", i+1),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Status:     chatsdk.SendStatusSucceeded,
		})
	}
	return msgs
}
