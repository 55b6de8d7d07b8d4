package config

import (
	"github.com/jessevdk/go-flags"
)

// Flags is the CLI surface layered on top of the JSON config files.
// Any flag left unset (empty, false, or the -1 default of --chain-id and
// --threads) does not override the merged file config; ConfigFile may be repeated, later files winning over earlier
// ones, and every other flag here wins over all of them.
type Flags struct {
	ConfigFile []string `short:"c" long:"config-file" description:"path to a JSON config file; may be repeated, later files override earlier ones"`

	NodeURL     string   `long:"node-url" description:"Chainweb node base URL"`
	NodeVersion string   `long:"node-version" description:"Chainweb graph version, e.g. mainnet01"`
	Account     string   `long:"account" description:"mining account for POST /mining/work"`
	Predicate   string   `long:"predicate" description:"Pact key predicate for the mining account, e.g. keys-all"`
	PublicKey   []string `long:"public-key" description:"hex public key backing the mining account; may be repeated"`
	ChainID     int      `long:"chain-id" default:"-1" description:"chain id to mine, 0-19"`

	WorkerKind string `long:"worker" description:"worker kind: cpu, external, simulation, constant-delay, on-demand, stratum"`
	Threads    int    `long:"threads" default:"-1" description:"CPU worker thread count, 0 for all cores"`
	Command    string `long:"external-command" description:"subprocess command for the external worker"`

	StratumEnabled bool   `long:"stratum" description:"run a Stratum V1 server instead of mining locally"`
	StratumAddr    string `long:"stratum-addr" description:"Stratum server listen address"`

	LogLevel string `long:"log-level" description:"debug, info, warn, error"`
	LogJSON  bool   `long:"log-json" description:"emit JSON-formatted log lines"`

	GenerateKey bool `long:"generate-key" description:"print a freshly generated Chainweb mining keypair and exit"`
	PrintConfig bool `long:"print-config" description:"print the fully merged configuration as JSON and exit"`
}

// ParseArgs parses args (normally os.Args[1:]) into a Flags, in the
// idiom go-flags callers use: unknown flags and --help are handled by
// the library itself, surfacing as a *flags.Error with Type ErrHelp.
func ParseArgs(args []string) (*Flags, error) {
	f := &Flags{}
	parser := flags.NewParser(f, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return f, nil
}

// IsHelp reports whether err is go-flags' sentinel for "the user asked
// for --help and it was already printed", so main can exit 0 instead of
// treating it as a real parse failure.
func IsHelp(err error) bool {
	if ferr, ok := err.(*flags.Error); ok {
		return ferr.Type == flags.ErrHelp
	}
	return false
}

// Overlay applies any flag that was set onto cfg, in precedence over
// whatever the merged JSON files set.
func Overlay(cfg *Config, f *Flags) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if f.NodeURL != "" {
		cfg.Node.URL = f.NodeURL
	}
	if f.NodeVersion != "" {
		cfg.Node.Version = f.NodeVersion
	}
	if f.Account != "" {
		cfg.Node.Account = f.Account
	}
	if f.Predicate != "" {
		cfg.Node.Predicate = f.Predicate
	}
	if len(f.PublicKey) > 0 {
		cfg.Node.PublicKeys = f.PublicKey
	}
	if f.ChainID >= 0 {
		cfg.Node.ChainID = f.ChainID
	}

	if f.WorkerKind != "" {
		cfg.Worker.Kind = f.WorkerKind
	}
	if f.Threads >= 0 {
		cfg.Worker.Threads = f.Threads
	}
	if f.Command != "" {
		cfg.Worker.Command = f.Command
	}

	if f.StratumEnabled {
		cfg.Stratum.Enabled = true
	}
	if f.StratumAddr != "" {
		cfg.Stratum.Addr = f.StratumAddr
	}

	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.LogJSON {
		cfg.Logging.JSON = true
	}
}
