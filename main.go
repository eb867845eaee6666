package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/authgate/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("アプリケーションの起動に失敗しました",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
}
