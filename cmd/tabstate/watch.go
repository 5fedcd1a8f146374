package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/tabstate/internal/collection"
	"github.com/kalambet/tabstate/internal/debounce"
	"github.com/kalambet/tabstate/internal/window"
)

var watchCmd = &cobra.Command{
	Use:   "watch <key>...",
	Short: "Print keys as other processes change them",
	Long: `Print the current value of each key, then a line every time another
process changes it, until interrupted.

Examples:
  tabstate watch theme
  tabstate watch theme layout --default '"unset"' --debounce 500ms`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defRaw, _ := cmd.Flags().GetString("default")
		quiet, _ := cmd.Flags().GetDuration("debounce")

		var def json.RawMessage
		if defRaw != "" {
			if !json.Valid([]byte(defRaw)) {
				return fmt.Errorf("--default must be a JSON document")
			}
			def = json.RawMessage(defRaw)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		w, err := window.Open(cfg)
		if err != nil {
			return err
		}
		defer w.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runWatch(ctx, cmd.OutOrStdout(), w, args, def, quiet)
	},
}

func init() {
	watchCmd.Flags().String("default", "", "JSON value shown while a key is absent")
	watchCmd.Flags().Duration("debounce", 0, "only print a value once it has been stable this long")
}

func runWatch(ctx context.Context, out io.Writer, w *window.Window, keys []string, def json.RawMessage, quiet time.Duration) error {
	out = &syncWriter{w: out}
	changed := collection.NewOrdered[string]()

	for _, key := range keys {
		c := window.LocalCell(w, key, def)
		defer c.Close()

		fmt.Fprintf(out, "%s = %s\n", key, showValue(c.Get()))

		emit := func(v json.RawMessage) {
			changed.Insert(key)
			fmt.Fprintf(out, "%s = %s\n", key, showValue(v))
		}
		if quiet > 0 {
			st := debounce.NewState(c.Get(), quiet)
			defer st.Cancel()
			st.Subscribe(emit)
			c.Subscribe(st.Set)
		} else {
			c.Subscribe(emit)
		}
	}

	cancelConn := w.Connectivity().Subscribe(func(online bool) {
		if online {
			printSuccess("online")
		} else {
			printWarning("offline")
		}
	})
	defer cancelConn()

	printStep("Watching %s (Ctrl-C to stop)", strings.Join(keys, ", "))
	err := w.Run(ctx)

	if changed.Len() > 0 {
		printStatus("Changed", "%s", strings.Join(changed.Current(), ", "))
	}
	return err
}

func showValue(v json.RawMessage) string {
	if len(v) == 0 {
		return "null"
	}
	return string(v)
}
