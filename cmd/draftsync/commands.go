package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"draftsync/internal/client/api"
	"draftsync/internal/client/autosave"
	"draftsync/internal/client/cache"
	clientcfg "draftsync/internal/client/config"
	"draftsync/internal/client/live"
	"draftsync/internal/client/reconcile"
	"draftsync/internal/hub"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// env assembles the client stack shared by every command.
type env struct {
	cfg    *clientcfg.Config
	client *api.Client
	store  *cache.Store
	rec    *reconcile.Reconciler
	logger *slog.Logger
}

func newEnv(cmd *cobra.Command) (*env, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := clientcfg.Load(configPath)
	if err != nil {
		return nil, err
	}

	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.ServerURL = server
	}
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		cfg.UserID = user
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("no caller identity: set user_id in the config file or pass --user")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	client := api.New(cfg.ServerURL, cfg.UserID, uuid.NewString())
	store, err := cache.Open(cfg.DataDir, cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}

	rec := reconcile.New(client, store, reconcile.Policy(cfg.ReconcilePolicy), logger)

	return &env{cfg: cfg, client: client, store: store, rec: rec, logger: logger}, nil
}

func (e *env) controller(docID string) *autosave.Controller {
	return autosave.New(docID, e.client, e.store, autosave.Config{
		Debounce: e.cfg.Debounce(),
		MaxDelta: e.cfg.MaxDelta,
	}, e.logger)
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a new draft document",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.store.Close()

		doc, err := e.client.CreateDraft(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(doc.ID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.store.Close()

		docs, err := e.client.ListDocuments(cmd.Context())
		if err != nil {
			return err
		}
		for _, doc := range docs {
			fmt.Printf("%s  %-10s  %s\n", doc.ID, doc.Status, doc.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <doc-id>",
	Short: "Print a document, reconciling any offline-buffered edit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.store.Close()

		res, err := e.rec.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if res.Conflict {
			fmt.Fprintf(cmd.ErrOrStderr(),
				"note: a buffered local edit diverged from the server version (server updated %s);\n"+
					"showing the %s side - run 'draftsync discard %s' to adopt the server version\n",
				res.AltUpdatedAt.Format(time.RFC3339), e.cfg.ReconcilePolicy, args[0])
		}
		fmt.Print(res.Content)
		return nil
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <doc-id>",
	Short: "Drop the buffered local edit and adopt the server version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.store.Close()

		res, err := e.rec.DiscardLocal(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "adopted server version from %s\n",
			res.BaseUpdatedAt.Format(time.RFC3339))
		fmt.Print(res.Content)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <doc-id>",
	Short: "Save new content from a file or stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.store.Close()

		file, _ := cmd.Flags().GetString("file")
		var content []byte
		if file != "" {
			content, err = os.ReadFile(file)
		} else {
			content, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("reading content: %w", err)
		}

		docID := args[0]
		res, err := e.rec.Load(cmd.Context(), docID)
		if err != nil {
			return err
		}

		ctrl := e.controller(docID)
		defer ctrl.Close()
		ctrl.SetBaseline(res.Content, res.BaseUpdatedAt)
		ctrl.TriggerSave(string(content), false)
		ctrl.ForceSave(cmd.Context())

		state, message := ctrl.State()
		switch state {
		case autosave.StateSaved, autosave.StateIdle:
			fmt.Fprintln(cmd.ErrOrStderr(), "saved")
			return nil
		case autosave.StateOffline:
			fmt.Fprintln(cmd.ErrOrStderr(), "server unreachable, edit buffered locally; run 'draftsync sync' when back online")
			return nil
		default:
			return fmt.Errorf("save failed: %s", message)
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <doc-id>",
	Short: "Mirror a file to a document with autosave and live peer updates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.store.Close()

		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		docID := args[0]
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := e.rec.Load(ctx, docID)
		if err != nil {
			return err
		}
		if res.Conflict {
			fmt.Fprintf(cmd.ErrOrStderr(),
				"note: buffered local edit diverged from server; editing the %s side\n", e.cfg.ReconcilePolicy)
		}
		if err := os.WriteFile(file, []byte(res.Content), 0o644); err != nil {
			return fmt.Errorf("writing working file: %w", err)
		}

		ctrl := e.controller(docID)
		defer ctrl.Close()
		ctrl.SetBaseline(res.Content, res.BaseUpdatedAt)
		ctrl.OnState(func(state autosave.State, message string) {
			if message != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", state, message)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%s]\n", state)
			}
		})

		// lastSeen tracks the working file's content as of the last poll or
		// applied push; shared between the ticker loop and the push handlers.
		var seenMu sync.Mutex
		lastSeen := res.Content

		// Peer saves land in the working file only while it has no unsaved
		// local edits; otherwise the conflict surfaces on our next save.
		conn, err := live.Dial(ctx, e.cfg.ServerURL, docID, e.cfg.UserID, e.client.ClientID(), e.logger)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "live updates unavailable: %v\n", err)
		} else {
			defer conn.Close()
			conn.On(hub.TypeUserSave, func(msg hub.Message) {
				seenMu.Lock()
				defer seenMu.Unlock()
				current, readErr := os.ReadFile(file)
				if readErr == nil && string(current) == lastSeen {
					os.WriteFile(file, []byte(msg.Content), 0o644)
					lastSeen = msg.Content
					if msg.UpdatedAt != nil {
						ctrl.SetBaseline(msg.Content, *msg.UpdatedAt)
					}
					fmt.Fprintln(cmd.ErrOrStderr(), "applied peer update")
				} else {
					fmt.Fprintln(cmd.ErrOrStderr(), "peer update received; local file has unsaved edits, keeping them")
				}
			})
			conn.On(hub.TypeDraft, func(msg hub.Message) {
				seenMu.Lock()
				defer seenMu.Unlock()
				os.WriteFile(file, []byte(msg.Content), 0o644)
				lastSeen = msg.Content
				fmt.Fprintln(cmd.ErrOrStderr(), "draft generation completed")
			})
			go conn.Listen()
		}

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Flush whatever is pending before exiting.
				flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				ctrl.ForceSave(flushCtx)
				return nil
			case <-ticker.C:
				content, err := os.ReadFile(file)
				if err != nil {
					continue
				}
				seenMu.Lock()
				changed := string(content) != lastSeen
				if changed {
					lastSeen = string(content)
				}
				seenMu.Unlock()
				if changed {
					ctrl.TriggerSave(string(content), false)
				}
			}
		}
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay offline-buffered edits to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.store.Close()

		pending, err := e.store.GetAll()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "nothing to sync")
			return nil
		}

		ctrl := e.controller("")
		defer ctrl.Close()
		ctrl.Sweep(cmd.Context())

		remaining, err := e.store.GetAll()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "flushed %d of %d buffered edits\n",
			len(pending)-len(remaining), len(pending))
		return nil
	},
}

func init() {
	editCmd.Flags().String("file", "", "read content from a file instead of stdin")
	watchCmd.Flags().String("file", "", "local working file to mirror")
}
