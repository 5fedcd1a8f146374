package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/tabstate/internal/storage"
)

// openLocal opens the local store described by the current config. Every
// call gets a fresh origin, so its writes reach other contexts as changes.
var openLocal = func() (*storage.SQLite, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir, storage.WithQuota(int64(cfg.Storage.LocalQuota)))
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func withLocal(fn func(storage.Backend) error) error {
	store, err := openLocal()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// --- get ---

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the JSON value stored under key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocal(func(b storage.Backend) error {
			return runGet(cmd.OutOrStdout(), b, args[0])
		})
	},
}

func runGet(w io.Writer, b storage.Backend, key string) error {
	raw, ok, err := b.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("key %q not found", key)
	}
	_, err = fmt.Fprintln(w, raw)
	return err
}

// --- set ---

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a value under key",
	Long: `Store a value under key. The value must be a JSON document unless
--string is given, in which case it is stored as a JSON string.

Examples:
  tabstate set theme '"dark"'
  tabstate set theme dark --string
  tabstate set layout '{"sidebar":true}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asString, _ := cmd.Flags().GetBool("string")
		return withLocal(func(b storage.Backend) error {
			raw, err := runSet(b, args[0], args[1], asString)
			if err != nil {
				return err
			}
			printSuccess("Set %s = %s", args[0], raw)
			return nil
		})
	},
}

func init() {
	setCmd.Flags().Bool("string", false, "store the value as a JSON string")
}

func runSet(b storage.Backend, key, value string, asString bool) (string, error) {
	var raw string
	if asString {
		enc, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		raw = string(enc)
	} else {
		var compact bytes.Buffer
		if err := json.Compact(&compact, []byte(value)); err != nil {
			return "", fmt.Errorf("value is not valid JSON (use --string for plain text): %w", err)
		}
		raw = compact.String()
	}
	if err := b.Set(key, raw); err != nil {
		return "", err
	}
	return raw, nil
}

// --- rm ---

var rmCmd = &cobra.Command{
	Use:   "rm <key>...",
	Short: "Remove keys",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocal(func(b storage.Backend) error {
			for _, key := range args {
				if err := b.Delete(key); err != nil {
					return err
				}
			}
			printSuccess("Removed %d key(s)", len(args))
			return nil
		})
	},
}

// --- keys ---

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List stored keys in sorted order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocal(func(b storage.Backend) error {
			return runKeys(cmd.OutOrStdout(), b)
		})
	},
}

func runKeys(w io.Writer, b storage.Backend) error {
	keys, err := b.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(w, k)
	}
	return nil
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This removes every stored key. Run with --confirm to proceed.")
			return nil
		}
		return withLocal(func(b storage.Backend) error {
			if err := b.Clear(); err != nil {
				return err
			}
			printSuccess("Local storage cleared")
			return nil
		})
	},
}

func init() {
	clearCmd.Flags().Bool("confirm", false, "confirm removing every key")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every key and value as JSONL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		var writer io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		err := withLocal(func(b storage.Backend) error {
			return runExport(writer, b)
		})
		if err == nil && output != "" {
			printSuccess("Data exported to %s", output)
		}
		return err
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
}

type exportRecord struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func runExport(w io.Writer, b storage.Backend) error {
	keys, err := b.Keys()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, k := range keys {
		raw, ok, err := b.Get(k)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		rec := exportRecord{Key: k, Value: json.RawMessage(raw)}
		if !json.Valid([]byte(raw)) {
			rec.Value, _ = json.Marshal(raw)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("writing %q: %w", k, err)
		}
	}
	return nil
}
