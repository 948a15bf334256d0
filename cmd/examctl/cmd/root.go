package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.etcd.io/bbolt"

	"github.com/zaqqye/exam_guard/internal/client"
	"github.com/zaqqye/exam_guard/internal/logging"
	"github.com/zaqqye/exam_guard/internal/monitor"
)

var conf = viper.New()

var rootCmd = &cobra.Command{
	Use:   "examctl",
	Short: "Take a monitored exam from the terminal",
	Long: `examctl signs a student in to an exam server and runs the integrity monitor
against events typed on standard input. Each take invocation behaves like one
load of the exam page.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	home, _ := os.UserHomeDir()
	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "exam server base URL")
	flags.String("state", filepath.Join(home, ".examctl.db"), "file holding the session token and exam progress")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")

	conf.SetEnvPrefix("EXAMCTL")
	conf.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	conf.AutomaticEnv()
	_ = conf.BindPFlags(flags)
}

func logger() *slog.Logger {
	return logging.New(os.Stderr, conf.GetString("log-level"))
}

// localState is the bbolt file shared by the auth token and every attempt's
// durable monitor slots.
type localState struct {
	db   *bbolt.DB
	auth *monitor.BoltStorage
}

const (
	authScope  = "auth"
	keyToken   = "token"
	keyUserID  = "user_id"
	keySession = "session_id"
)

func openState() (*localState, error) {
	path := conf.GetString("state")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open state file %s", path)
	}
	return &localState{db: db, auth: monitor.NewBoltStorage(db, authScope)}, nil
}

func (s *localState) Close() error {
	return s.db.Close()
}

// attempt is the durable storage of one student's attempt at one exam.
func (s *localState) attempt(examID, userID string) *monitor.BoltStorage {
	return monitor.NewBoltStorage(s.db, "exam:"+examID+":"+userID)
}

func (s *localState) saveLogin(res *client.LoginResult) error {
	for k, v := range map[string]string{keyToken: res.AccessToken, keyUserID: res.UserID, keySession: res.SessionID} {
		if err := s.auth.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *localState) forget() error {
	return s.auth.Delete(keyToken, keyUserID, keySession)
}

// client returns an API client, resuming the stored session when requireAuth
// is set.
func (s *localState) client(log *slog.Logger, requireAuth bool) (*client.Client, error) {
	opts := []client.Option{client.WithLogger(log)}
	if requireAuth {
		token, err := s.auth.Get(keyToken)
		if err != nil {
			return nil, err
		}
		if token == "" {
			return nil, errors.New("not logged in; run examctl login first")
		}
		userID, err := s.auth.Get(keyUserID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithToken(token, userID))
	}
	return client.New(conf.GetString("server"), opts...)
}
