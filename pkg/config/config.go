// Package config holds the settings of the drawroom binaries. Flags take their defaults from the
// environment, so either can be used.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func EnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the text logger every binary installs as the default.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

type Server struct {
	Addr        string
	Database    string
	JWTSecret   string
	LogLevel    string
	SendQueue   int
	IdleTimeout time.Duration
	MDNS        bool
}

func (s *Server) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&s.Addr, "addr", EnvOrDefault("DRAWROOM_ADDR", "localhost:8080"), "the address to listen on")
	fs.StringVar(&s.Database, "db", EnvOrDefault("DATABASE_URL", "drawroom.sqlite3"), "a sqlite path or a postgres:// url")
	fs.StringVar(&s.JWTSecret, "jwt-secret", EnvOrDefault("JWT_SECRET", ""), "the secret session tokens are signed with")
	fs.StringVar(&s.LogLevel, "log-level", EnvOrDefault("LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.IntVar(&s.SendQueue, "send-queue", 64, "frames buffered per connection before a slow peer is dropped")
	fs.DurationVar(&s.IdleTimeout, "idle-timeout", 60*time.Second, "close connections that stop answering pings for this long")
	fs.BoolVar(&s.MDNS, "mdns", false, "advertise the relay on the local network")
}

func (s Server) Validate() error {
	var errs []error
	if s.Addr == "" {
		errs = append(errs, errors.New("an address is required"))
	}
	if s.Database == "" {
		errs = append(errs, errors.New("a database is required"))
	}
	if s.JWTSecret == "" {
		errs = append(errs, errors.New("a jwt secret is required (-jwt-secret or JWT_SECRET)"))
	}
	if s.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("send queue must be positive, got %d", s.SendQueue))
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("idle timeout must be positive, got %s", s.IdleTimeout))
	}
	if _, err := ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type Client struct {
	// Addr is the relay's host:port, or "mdns" to look for one on the local network.
	Addr      string
	Room      string
	Token     string
	User      string
	JWTSecret string
	LogLevel  string
	Shapes    int
	Interval  time.Duration
	Out       string
}

func (c *Client) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", EnvOrDefault("DRAWROOM_ADDR", "127.0.0.1:8080"), "the relay to connect to, or mdns to discover one")
	fs.StringVar(&c.Room, "room", "", "the room slug or id to join")
	fs.StringVar(&c.Token, "token", EnvOrDefault("DRAWROOM_TOKEN", ""), "a session token")
	fs.StringVar(&c.User, "user", "", "issue a token for this user instead of passing -token")
	fs.StringVar(&c.JWTSecret, "jwt-secret", EnvOrDefault("JWT_SECRET", ""), "the secret to issue a token with")
	fs.StringVar(&c.LogLevel, "log-level", EnvOrDefault("LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.IntVar(&c.Shapes, "shapes", 0, "stop after drawing this many shapes; 0 draws until interrupted")
	fs.DurationVar(&c.Interval, "interval", time.Second, "the pause between drawn shapes")
	fs.StringVar(&c.Out, "out", "", "write the final drawing to this .png or .pdf file")
}

func (c Client) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("an address is required"))
	}
	if c.Room == "" {
		errs = append(errs, errors.New("a room is required"))
	}
	if c.Token == "" && (c.User == "" || c.JWTSecret == "") {
		errs = append(errs, errors.New("either -token or both -user and -jwt-secret are required"))
	}
	if c.Shapes < 0 {
		errs = append(errs, fmt.Errorf("shapes must not be negative, got %d", c.Shapes))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.Out != "" {
		switch strings.ToLower(filepath.Ext(c.Out)) {
		case ".png", ".pdf":
		default:
			errs = append(errs, fmt.Errorf("output must be a .png or .pdf file, got %q", c.Out))
		}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
