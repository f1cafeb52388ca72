package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/mbeoliero/kit/log"
	"github.com/spf13/cobra"

	"github.com/mbeoliero/ecommunity/internal/router"
)

var openConversationId string

func init() {
	serveCmd.Flags().StringVar(&openConversationId, "conversation", "", "conversation to open on start")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the client and its debug API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	r, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer r.close(ctx)

	if err := r.session.Start(ctx); err != nil {
		return err
	}
	if openConversationId != "" {
		if err := r.session.Open(ctx, openConversationId); err != nil {
			log.CtxWarn(ctx, "open conversation failed: conversation_id=%s, error=%v", openConversationId, err)
		}
	}

	h := server.Default(
		server.WithHostPorts(fmt.Sprintf(":%d", r.cfg.Server.HTTPPort)),
	)
	router.SetupRouter(h, router.NewHandlers(r.session), &r.cfg.Server, r.registry)

	log.CtxInfo(ctx, "debug api starting on port %d: user_id=%s", r.cfg.Server.HTTPPort, r.self.Id)

	go func() {
		h.Spin()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.CtxError(ctx, "server shutdown error: %v", err)
	}

	log.CtxInfo(ctx, "stopped")
	return nil
}
