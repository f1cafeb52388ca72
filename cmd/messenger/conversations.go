package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mbeoliero/ecommunity/internal/entity"
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Print the conversation directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		r, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer r.close(ctx)

		convs, err := r.session.FetchConversations(ctx)
		if err != nil {
			return err
		}
		for _, c := range convs {
			cmd.Println(formatConversation(c, r.self.Id))
		}
		return nil
	},
}

func formatConversation(c *entity.Conversation, selfId string) string {
	name := c.Name
	if name == "" {
		var others []string
		for _, p := range c.Participants {
			if p.Id != selfId {
				others = append(others, p.Name)
			}
		}
		name = strings.Join(others, ", ")
	}

	line := fmt.Sprintf("%s  %s", c.Id, name)
	if c.UnreadCount > 0 {
		line += fmt.Sprintf(" (%d unread)", c.UnreadCount)
	}
	if c.LastMessage != nil {
		line += fmt.Sprintf("  %q %s", c.LastMessage.Content, humanize.Time(time.UnixMilli(c.LastMessage.CreatedAt)))
	}
	return line
}
