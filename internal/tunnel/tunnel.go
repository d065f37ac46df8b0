package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nomadflow/nomadflow/internal/common/config"
	apperrors "github.com/nomadflow/nomadflow/internal/common/errors"
	"github.com/nomadflow/nomadflow/internal/common/logger"
)

// registerTimeout bounds the relay registration call.
const registerTimeout = 10 * time.Second

// Info describes an established public tunnel.
type Info struct {
	PublicURL  string
	Subdomain  string
	RemotePort uint16
}

type registerRequest struct {
	Port      uint16 `json:"port"`
	Secret    string `json:"secret"`
	Subdomain string `json:"subdomain,omitempty"`
}

type registerResponse struct {
	Subdomain string `json:"subdomain"`
}

// Start connects the tunnel client to the relay, registers the assigned
// port for a subdomain, and runs the data-plane listener in the background
// until ctx is cancelled.
func Start(ctx context.Context, localPort int, cfg *config.TunnelConfig, httpClient *http.Client, log *logger.Logger) (*Info, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("tunnel")

	log.Info("connecting to tunnel relay",
		zap.String("relayHost", cfg.RelayHost), zap.Int("relayPort", cfg.RelayPort))

	client, err := Connect(ctx, localPort, cfg.RelayHost, cfg.RelayPort, cfg.RelaySecret, log)
	if err != nil {
		return nil, err
	}

	subdomain, err := register(ctx, cfg, client.RemotePort(), httpClient)
	if err != nil {
		return nil, err
	}

	publicURL := PublicURL(cfg.RelayHost, subdomain)
	log.Info("tunnel registered", zap.String("publicUrl", publicURL))

	go func() {
		if err := client.Listen(ctx); err != nil {
			log.Error("tunnel closed", zap.Error(err))
		}
	}()

	return &Info{
		PublicURL:  publicURL,
		Subdomain:  subdomain,
		RemotePort: client.RemotePort(),
	}, nil
}

// register claims a subdomain for the tunnel's remote port.
func register(ctx context.Context, cfg *config.TunnelConfig, remotePort uint16, httpClient *http.Client) (string, error) {
	body, err := json.Marshal(registerRequest{
		Port:      remotePort,
		Secret:    cfg.RelaySecret,
		Subdomain: cfg.Subdomain,
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	url := fmt.Sprintf("https://%s/_api/register", cfg.RelayHost)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindIO, err, "relay registration failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &apperrors.Error{Kind: apperrors.KindOther,
			Message: fmt.Sprintf("relay registration failed (%d): %s", resp.StatusCode, payload)}
	}

	var reg registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return "", apperrors.Wrap(apperrors.KindIO, err, "invalid relay response")
	}
	return reg.Subdomain, nil
}

// PublicURL derives the client-facing URL for a subdomain. relay.<base>
// serves the registration API; tunnels live at <sub>.tunnel.<base>.
func PublicURL(relayHost, subdomain string) string {
	return fmt.Sprintf("https://%s.tunnel.%s", subdomain, strings.TrimPrefix(relayHost, "relay."))
}
