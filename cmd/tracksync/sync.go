package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracksync/tracksync/internal/api"
	"github.com/tracksync/tracksync/internal/live"
	"github.com/tracksync/tracksync/internal/model"
	"github.com/tracksync/tracksync/internal/relocate"
	"github.com/tracksync/tracksync/internal/service"
)

const pollInterval = time.Second

var (
	flagAll      bool
	flagNoFollow bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [source-id]",
	Short: "sync asks a running server to start a job and follows its output",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doSync,
}

var relocateCmd = &cobra.Command{
	Use:   "relocate new-path",
	Short: "relocate moves the whole library to a new root directory",
	Args:  cobra.ExactArgs(1),
	RunE:  doRelocate,
}

func newClient() (*api.Client, error) {
	if flagServer != "" {
		return api.NewClient(flagServer)
	}
	host, port, err := net.SplitHostPort(config.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("parsing server.addr: %w", err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return api.NewClient("http://" + net.JoinHostPort(host, port))
}

func doSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := newClient()
	if err != nil {
		return err
	}

	if flagAll {
		if len(args) > 0 {
			return errors.New("--all takes no source id")
		}
		if err := client.StartAll(ctx); err != nil {
			return err
		}
		fmt.Println("started")
		return nil
	}
	if len(args) != 1 {
		return errors.New("source id or --all required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid source id %q: %w", args[0], err)
	}

	res, err := client.StartSync(ctx, id)
	if err != nil {
		return err
	}
	switch res.Status {
	case service.BlockedByRelocation:
		return errors.New("library relocation in progress")
	case service.AlreadyRunning:
		fmt.Fprintln(os.Stderr, "already running, following")
	}
	if flagNoFollow {
		return nil
	}
	return followSync(ctx, client, id)
}

func followSync(ctx context.Context, client *api.Client, id int64) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	cursor := 0
	for {
		poll, err := client.Live(ctx, id, cursor)
		if err != nil {
			return err
		}
		for _, line := range poll.Logs {
			fmt.Println(line)
		}
		cursor = poll.Cursor
		if poll.Status != string(model.JobRunning) && poll.Status != live.StatusIdle {
			if poll.Stats != nil {
				fmt.Printf("%s: added %d, removed %d, skipped %d\n", poll.Status, poll.Stats.Added, poll.Stats.Removed, poll.Stats.Skipped)
			}
			if poll.Error != "" {
				return errors.New(poll.Error)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func doRelocate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := newClient()
	if err != nil {
		return err
	}

	check, err := client.PreCheck(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%d files (%d bytes) across %d sources\n", check.TotalFiles, check.TotalSize, check.SourceCount)
	if err := client.StartMove(ctx, args[0]); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	cursor := 0
	for {
		st, err := client.MoveStatus(ctx, cursor)
		if err != nil {
			return err
		}
		for _, line := range st.Logs {
			fmt.Println(line)
		}
		cursor = st.Cursor
		switch st.Status {
		case relocate.StatusCompleted:
			return nil
		case relocate.StatusFailed:
			return errors.New(st.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
