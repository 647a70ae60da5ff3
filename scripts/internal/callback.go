package internal

import (
	"fmt"
	"os"

	"github.com/agentmesh/billing/internal/config"
	"github.com/agentmesh/billing/internal/integration/paymob"
)

// SignCallback prints the hmac query parameter for the callback in CALLBACK_FILE,
// signed with the configured secret. Useful to replay callbacks against a local server.
func SignCallback() error {
	path := os.Getenv("CALLBACK_FILE")
	if path == "" {
		return fmt.Errorf("CALLBACK_FILE is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cb, err := paymob.ParseCallback(raw)
	if err != nil {
		return err
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	if cfg.Paymob.HMACSecret == "" {
		return fmt.Errorf("paymob.hmac_secret is not configured")
	}

	fmt.Printf("invoice: %s\n", cb.Obj.Order.InvoiceNumber())
	fmt.Printf("hmac: %s\n", paymob.CalculateHMAC(cfg.Paymob.HMACSecret, &cb.Obj))
	return nil
}
