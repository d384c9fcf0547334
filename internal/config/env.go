package config

import "fmt"

// Credentials holds venue secrets. These are sourced exclusively from
// environment variables — never from the YAML config file, never logged,
// never persisted.
type Credentials struct {
	MakerAccountAddress string // Venue-M account/public address
	MakerAPIPublic      string // Venue-M API public key
	MakerAPIPrivate     string // Venue-M Ed25519 seed (hex, optional 0x prefix, or raw bytes)

	TakerWalletAddress string // Venue-T wallet address
	TakerPrivateKey    string // Venue-T ECDSA private key (hex)
}

const (
	envMakerAccountAddress = "XEMM_MAKER_ACCOUNT_ADDRESS"
	envMakerAPIPublic      = "XEMM_MAKER_API_PUBLIC"
	envMakerAPIPrivate     = "XEMM_MAKER_API_PRIVATE"
	envTakerWalletAddress  = "XEMM_TAKER_WALLET_ADDRESS"
	envTakerPrivateKey     = "XEMM_TAKER_PRIVATE_KEY"
)

// LoadCredentials reads all venue secrets from the environment and
// validates none are missing. getenv is injected for testability.
func LoadCredentials(getenv func(string) string) (Credentials, error) {
	c := Credentials{
		MakerAccountAddress: getenv(envMakerAccountAddress),
		MakerAPIPublic:      getenv(envMakerAPIPublic),
		MakerAPIPrivate:     getenv(envMakerAPIPrivate),
		TakerWalletAddress:  getenv(envTakerWalletAddress),
		TakerPrivateKey:     getenv(envTakerPrivateKey),
	}

	var missing []string
	if c.MakerAccountAddress == "" {
		missing = append(missing, envMakerAccountAddress)
	}
	if c.MakerAPIPublic == "" {
		missing = append(missing, envMakerAPIPublic)
	}
	if c.MakerAPIPrivate == "" {
		missing = append(missing, envMakerAPIPrivate)
	}
	if c.TakerWalletAddress == "" {
		missing = append(missing, envTakerWalletAddress)
	}
	if c.TakerPrivateKey == "" {
		missing = append(missing, envTakerPrivateKey)
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("missing required credential env vars: %v", missing)
	}
	return c, nil
}
