package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/ejector/cmd"
	"github.com/michaelpento.lv/ejector/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		utils.GetLogger().Error("Command failed", zap.Error(err))
		utils.CleanupLogger()
		os.Exit(1)
	}
	utils.CleanupLogger()
}
