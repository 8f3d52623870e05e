package constants

import (
	"flag"
)

var (
	OauthClientId     string
	OauthClientSecret string
	FrontendUrl       string
	ConfigPath        string
	RefreshToken      string
	ListenAddr        string
	LogLevel          string
	AssumeYes         bool
)

// Flags are registered here and parsed by main so that test binaries,
// which register their own flags later, are not rejected.
func init() {
	flag.StringVar(&OauthClientId, "oauth_client_id", "dummy", "oauth client id")
	flag.StringVar(&OauthClientSecret, "oauth_client_secret", "dummy", "oauth client secret")
	flag.StringVar(&FrontendUrl, "frontend_url", "http://localhost:5173", "URLs allowlisted by UI for CORS.")
	flag.StringVar(&ConfigPath, "config", "detach.yaml", "path to the settings file")
	flag.StringVar(&RefreshToken, "refresh_token", "", "refresh token for the mailbox owner. Falls back to the keyring, then the database.")
	flag.StringVar(&ListenAddr, "listen", ":8090", "address the web server listens on")
	flag.StringVar(&LogLevel, "log_level", "debug", "debug, info, warn or error")
	flag.BoolVar(&AssumeYes, "yes", false, "process without asking for confirmation")
}
