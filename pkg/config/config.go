// Package config loads daemon configuration from the environment and the
// account roster from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	prefix      = "mailhoard"
	tableFormat = `Mailhoard is configured via the environment. The following environment
variables can be used:

KEY	DEFAULT	REQUIRED	DESCRIPTION
{{range .}}{{usage_key .}}	{{usage_default .}}	{{usage_required .}}	{{usage_description .}}
{{end}}`
)

var (
	// Version of this build, set by main.
	Version = ""

	// BuildDate for this build, set by main.
	BuildDate = ""
)

// Root wraps all other configurations.
type Root struct {
	LogLevel string  `required:"true" default:"info" desc:"debug, info, warn, or error"`
	Accounts string  `required:"true" default:"accounts.json" desc:"Path to account roster JSON"`
	Storage  Storage
	IMAP     IMAP
	SMTP     SMTP
}

// Storage contains the mail store configuration.
type Storage struct {
	Path string `required:"true" default:"/var/lib/mailhoard" desc:"Mail store path"`
}

// IMAP contains the store-session configuration shared by all accounts.
type IMAP struct {
	DialTimeout     time.Duration `required:"true" default:"30s" desc:"Connect/TLS handshake timeout"`
	KeepAlivePeriod time.Duration `required:"true" default:"90s" desc:"Idle NOOP period while connected"`
	StopGrace       time.Duration `required:"true" default:"5s" desc:"Grace before forced disconnect on shutdown"`
	FolderCacheSize int           `required:"true" default:"8" desc:"Folder handles cached per account"`
	SyncPeriod      time.Duration `required:"true" default:"10m" desc:"Periodic folder sync interval (serve mode)"`
}

// SMTP contains the submission-channel configuration shared by all accounts.
type SMTP struct {
	DialTimeout time.Duration `required:"true" default:"30s" desc:"Connect timeout for outgoing mail"`
}

// TLSMode selects how a connection is secured.
type TLSMode string

// Supported TLS modes for account endpoints.
const (
	TLSOn       TLSMode = "tls"
	TLSStartTLS TLSMode = "starttls"
)

// Account is one entry of the account roster file.  Folders lists the
// folder paths synchronized in serve mode; empty means INBOX only.
type Account struct {
	Name     string     `json:"name"`
	IMAPAddr string     `json:"imapAddr"`
	IMAPTLS  TLSMode    `json:"imapTLS"`
	SMTPAddr string     `json:"smtpAddr"`
	SMTPTLS  TLSMode    `json:"smtpTLS"`
	Username string     `json:"username"`
	Password string     `json:"password"`
	Folders  [][]string `json:"folders,omitempty"`
}

// Process loads and parses configuration from the environment.
func Process() (*Root, error) {
	c := &Root{}
	err := envconfig.Process(prefix, c)
	return c, err
}

// LoadAccounts reads the account roster.  envconfig cannot express a list of
// structured entries, so accounts live in their own file.
func LoadAccounts(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading account roster: %w", err)
	}
	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parsing account roster %q: %w", path, err)
	}
	for i := range accounts {
		a := &accounts[i]
		if a.Name == "" {
			return nil, fmt.Errorf("account %d: missing name", i)
		}
		if a.IMAPAddr == "" {
			return nil, fmt.Errorf("account %q: missing imapAddr", a.Name)
		}
		if a.IMAPTLS == "" {
			a.IMAPTLS = TLSOn
		}
		if a.SMTPTLS == "" {
			a.SMTPTLS = TLSStartTLS
		}
	}
	return accounts, nil
}

// Usage prints out the envconfig usage to Stderr.
func Usage() {
	tabs := tabwriter.NewWriter(os.Stderr, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef(prefix, &Root{}, tabs, tableFormat); err != nil {
		log.Fatalf("Unable to parse env config: %v", err)
	}
	tabs.Flush()
}
