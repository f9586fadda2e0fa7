package main

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/cmr-widget/pkg/config"
	"github.com/go-go-golems/cmr-widget/pkg/loader"
	"github.com/go-go-golems/cmr-widget/pkg/logging"
	"github.com/go-go-golems/cmr-widget/pkg/persistence/sessionstore"
)

// app carries the resolved settings from the root command to subcommands.
type app struct {
	configPath string
	loaderURL  string
	projectID  string
	storeName  string
	storePath  string
	logLevel   string
	logFile    string
	withCaller bool

	settings  config.Settings
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "cmr-widget",
		Short:         "Customer support chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "path to a YAML or TOML config file")
	f.StringVar(&a.loaderURL, "loader-url", "", "widget loader URL carrying project_id, e.g. https://host/static/chat-widget.js?project_id=7")
	f.StringVar(&a.storeName, "store", "", "session store backend: memory, file, sqlite, redis")
	f.StringVar(&a.storePath, "store-path", "", "session store file for the file and sqlite backends")
	f.StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	f.StringVar(&a.logFile, "log-file", "", "write logs to this file")
	f.BoolVar(&a.withCaller, "with-caller", false, "include caller information in logs")

	root.AddCommand(newChatCmd(a), newStatusCmd(a), newResetCmd(a), newWatchCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	s, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.loaderURL != "" {
		s.LoaderURL = a.loaderURL
	}
	if a.storeName != "" {
		s.Store.Backend = a.storeName
		if a.storePath == "" {
			s.Store.Path = sessionstore.DefaultPath(config.DefaultDir(), a.storeName)
		}
	}
	if a.storePath != "" {
		s.Store.Path = a.storePath
	}
	if a.logLevel != "" {
		s.Log.Level = a.logLevel
	}
	if a.logFile != "" {
		s.Log.File = a.logFile
	}
	if a.withCaller {
		s.Log.WithCaller = true
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if wantsTerminal(cmd) && s.Log.File == "" {
		s.Log.File = filepath.Join(config.DefaultDir(), "cmr-widget.log")
	}
	if s.Log.File != "" {
		if err := ensureDir(filepath.Dir(s.Log.File)); err != nil {
			return err
		}
	}

	closer, err := logging.Init(s.Log)
	if err != nil {
		return err
	}
	a.logCloser = closer
	a.settings = s
	log.Debug().Str("command", cmd.Name()).Str("store", s.Store.Backend).Msg("settings loaded")
	return nil
}

// wantsTerminal reports whether cmd takes over the terminal, in which case logs must not go
// to stderr.
func wantsTerminal(cmd *cobra.Command) bool {
	if cmd.Name() != "chat" {
		return false
	}
	plain, _ := cmd.Flags().GetBool("plain")
	return !plain
}

// resolveProject returns the project id from --project or the loader URL.
func (a *app) resolveProject(override string) (string, error) {
	if p := strings.TrimSpace(override); p != "" {
		return p, nil
	}
	if a.settings.LoaderURL == "" {
		return "", errors.New("either --project or --loader-url is required")
	}
	ref, err := loader.Parse(a.settings.LoaderURL)
	if err != nil {
		return "", err
	}
	return ref.ProjectID, nil
}

func (a *app) openStore() (sessionstore.Store, error) {
	opts := a.settings.StoreOptions()
	if opts.Backend == sessionstore.BackendFile || opts.Backend == sessionstore.BackendSQLite {
		if err := ensureDir(filepath.Dir(opts.Path)); err != nil {
			return nil, err
		}
	}
	store, err := sessionstore.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open session store")
	}
	return store, nil
}
