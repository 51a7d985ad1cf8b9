package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reelrelay/internal/app"
	"reelrelay/internal/config"
)

func main() {
	var (
		cfgPath    string
		envPath    string
		once       bool
		importPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (JSON or YAML); optional")
	flag.StringVar(&envPath, "env", ".env", "path to a .env file; optional")
	flag.BoolVar(&once, "once", false, "run a single relay pass and exit")
	flag.StringVar(&importPath, "import-ledger", "", "merge a legacy processed.json into the ledger and exit")
	flag.Parse()

	if err := config.LoadDotEnv(envPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, config.NewManager(cfgPath))
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	switch {
	case importPath != "":
		n, err := a.ImportLedger(ctx, importPath)
		_ = a.Close()
		if err != nil {
			fmt.Println("fatal import:", err)
			os.Exit(1)
		}
		fmt.Printf("imported %d id(s)\n", n)
		return
	case once:
		rep, err := a.RunOnce(ctx)
		_ = a.Close()
		relayed, skipped, failed := rep.Counts()
		fmt.Printf("fetched %d, relayed %d, skipped %d, failed %d\n", rep.Fetched, relayed, skipped, failed)
		if err != nil {
			fmt.Println("fatal run:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		_ = a.Stop(context.Background())
		os.Exit(1)
	}

	<-a.Done()
	fatal := a.Err()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
	if fatal != nil {
		fmt.Println("fatal:", fatal)
		os.Exit(1)
	}
}
