package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mbeoliero/ecommunity/internal/entity"
	"github.com/mbeoliero/ecommunity/internal/service"
)

var (
	sendConversationId string
	sendText           string
	sendFiles          []string
)

func init() {
	sendCmd.Flags().StringVar(&sendConversationId, "conversation", "", "conversation id")
	sendCmd.Flags().StringVar(&sendText, "text", "", "message text")
	sendCmd.Flags().StringArrayVar(&sendFiles, "file", nil, "file to attach, repeatable")
	_ = sendCmd.MarkFlagRequired("conversation")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one message and print the conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		req := &service.SendRequest{Content: sendText}
		for _, path := range sendFiles {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			st, err := f.Stat()
			if err != nil {
				return err
			}
			req.Files = append(req.Files, &entity.LocalFile{
				Name:     filepath.Base(path),
				MimeType: mime.TypeByExtension(filepath.Ext(path)),
				Size:     st.Size(),
				Reader:   f,
			})
		}

		r, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer r.close(ctx)

		if err := r.session.Open(ctx, sendConversationId); err != nil {
			return err
		}
		if err := r.session.Send(ctx, req); err != nil {
			return err
		}

		msgs, err := r.session.Messages()
		if err != nil {
			return err
		}
		for _, m := range msgs {
			printMessage(cmd, m)
		}
		return nil
	},
}

func printMessage(cmd *cobra.Command, m *entity.Message) {
	line := fmt.Sprintf("[%s] %s: %s", m.Id, m.SenderName, m.Content)
	if m.IsEdited {
		line += " (edited)"
	}
	for _, a := range m.Attachments {
		line += fmt.Sprintf(" <%s>", a.Name)
	}
	cmd.Println(line)
}
