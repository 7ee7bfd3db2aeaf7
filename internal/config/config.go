package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"

	// LamportsPerSOL converts between display units and ledger base units.
	LamportsPerSOL = 1_000_000_000
)

type Config struct {
	TelegramToken    string
	ChatID           int64  // the only chat the bot acts in
	AdminID          string // identity allowed to run /skip
	SolanaRPCURL     string
	ReceivingAddress string // pot address players pay the entry fee to
	WalletPrivateKey string // base58 key of the pot wallet, used for payouts
	MinEntryLamports uint64
	FeeReserve       uint64 // lamports kept in the pot wallet when paying out
	GeminiAPIKey     string
	GeminiModel      string
	SeenLogPath      string // plain-text signature log (default backend)
	JournalPath      string // payout journal (default backend)
	DBDialect        string // postgres only
	DBDsn            string // DSN string passed to GORM driver
	RedisURL         string // optional: signature cache in redis
	RPCTimeout       time.Duration
	Debug            bool // if true: verbose logs
	TUI              bool // if true: run the status dashboard, logs go to file
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %s\n", key, v, def)
		return def
	}
	return d
}

// ParseSOL converts a decimal SOL amount ("0.01") to lamports.
func ParseSOL(s string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %q", s)
	}
	return uint64(d.Shift(9).IntPart()), nil
}

// FormatSOL renders lamports as a trimmed SOL amount, e.g. 100000000 -> "0.1".
func FormatSOL(lamports uint64) string {
	return decimal.NewFromInt(int64(lamports)).Shift(-9).String()
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

func Load() Config {
	cfg := Config{
		TelegramToken:    os.Getenv("TELEGRAM_TOKEN"),
		AdminID:          strings.TrimPrefix(os.Getenv("ADMIN_ID"), "@"),
		SolanaRPCURL:     getenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		ReceivingAddress: os.Getenv("RECEIVING_ADDRESS"),
		WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getenv("GEMINI_MODEL", "gemini-2.5-flash"),
		SeenLogPath:      getenv("SEEN_LOG_PATH", "processed_signatures.txt"),
		JournalPath:      getenv("PAYOUT_JOURNAL_PATH", "payouts.json"),
		RedisURL:         strings.TrimSpace(os.Getenv("REDIS_URL")),
		RPCTimeout:       getenvDuration("RPC_TIMEOUT", 15*time.Second),
		Debug:            getenvBool("DEBUG", false),
		TUI:              getenvBool("TUI", false),
	}

	if v := os.Getenv("CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ChatID = id
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid CHAT_ID %q: %v\n", v, err)
		}
	}

	cfg.MinEntryLamports = 10_000_000 // 0.01 SOL
	if v := os.Getenv("MIN_ENTRY_SOL"); v != "" {
		if lamports, err := ParseSOL(v); err == nil {
			cfg.MinEntryLamports = lamports
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid MIN_ENTRY_SOL, using default: %v\n", err)
		}
	}

	cfg.FeeReserve = 1_000_000 // 0.001 SOL: transfer fee plus rent headroom
	if v := os.Getenv("FEE_RESERVE_SOL"); v != "" {
		if lamports, err := ParseSOL(v); err == nil {
			cfg.FeeReserve = lamports
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid FEE_RESERVE_SOL, using default: %v\n", err)
		}
	}

	if dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL")); dbURL != "" {
		if dialect, dsn, err := parseDatabaseURL(dbURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, falling back to files: %v\n", err)
		}
	}

	return cfg
}

// Validate reports the first missing setting the bot cannot run without.
func (c Config) Validate() error {
	switch {
	case c.TelegramToken == "":
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	case c.ChatID == 0:
		return fmt.Errorf("CHAT_ID is required")
	case c.ReceivingAddress == "":
		return fmt.Errorf("RECEIVING_ADDRESS is required")
	case c.WalletPrivateKey == "":
		return fmt.Errorf("WALLET_PRIVATE_KEY is required")
	case c.GeminiAPIKey == "":
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("chat=%d rpc=%s pot=%s db=%s", c.ChatID, c.SolanaRPCURL, c.ReceivingAddress, c.DBDialect)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"chat=%d admin=%s rpc=%s pot=%s min_entry=%s fee_reserve=%s model=%s seen_log=%s journal=%s db=%s dsn=%s redis=%s tui=%t",
		c.ChatID,
		c.AdminID,
		c.SolanaRPCURL,
		c.ReceivingAddress,
		FormatSOL(c.MinEntryLamports),
		FormatSOL(c.FeeReserve),
		c.GeminiModel,
		c.SeenLogPath,
		c.JournalPath,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		maskURL(c.RedisURL),
		c.TUI,
	)
}

func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.User(u.User.Username())
	return u.String()
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
