package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"snipebot/internal/apperr"
	"snipebot/internal/exchange"
	"snipebot/internal/models"

	"github.com/mr-tron/base58"
)

// RemoteSigner asks an external signing service to sign transactions for
// a single wallet.
type RemoteSigner struct {
	url        string
	token      string
	wallet     string
	httpClient *http.Client
}

func NewRemoteSigner(url, token, wallet string) (*RemoteSigner, error) {
	if err := models.ValidateMint(wallet); err != nil {
		return nil, fmt.Errorf("Некорректный адрес кошелька: %w", err)
	}
	return &RemoteSigner{
		url:    url,
		token:  token,
		wallet: wallet,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (s *RemoteSigner) PublicKey() string {
	return s.wallet
}

type signRequest struct {
	Wallet      string `json:"wallet"`
	Transaction string `json:"transaction"`
}

type signResponse struct {
	Transaction string `json:"transaction"`
	Error       string `json:"error"`
}

func (s *RemoteSigner) Sign(ctx context.Context, unsignedTx string) (string, error) {
	payload, err := json.Marshal(signRequest{Wallet: s.wallet, Transaction: unsignedTx})
	if err != nil {
		return "", fmt.Errorf("Не удалось подготовить запрос подписи: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("Не удалось создать запрос подписи: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport("sign", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(exchange.ErrUnavailable, "sign", err)
	}
	if resp.StatusCode >= 500 {
		return "", apperr.Wrap(exchange.ErrUnavailable, "sign", fmt.Errorf("status %s", resp.Status))
	}

	var out signResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("Не удалось разобрать ответ подписи: %w", err)
	}
	if resp.StatusCode >= 400 || out.Error != "" || out.Transaction == "" {
		return "", apperr.Wrap(exchange.ErrRejected, "sign", fmt.Errorf("signer: %s %s", resp.Status, out.Error))
	}
	return out.Transaction, nil
}

// signatureOf extracts the fee payer signature from a signed transaction.
// That signature is the transaction id on Solana.
func signatureOf(signedTx string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(signedTx)
	if err != nil {
		return "", fmt.Errorf("Некорректная подписанная транзакция: %w", err)
	}
	count, n := readShortVec(raw)
	if n == 0 || count == 0 || len(raw) < n+64 {
		return "", fmt.Errorf("Подписанная транзакция без подписей")
	}
	sig := raw[n : n+64]
	if bytes.Equal(sig, make([]byte, 64)) {
		return "", fmt.Errorf("Транзакция не подписана")
	}
	return base58.Encode(sig), nil
}

// readShortVec decodes Solana's compact-u16 length prefix.
func readShortVec(b []byte) (int, int) {
	value := 0
	for i := 0; i < 3 && i < len(b); i++ {
		value |= int(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return value, i + 1
		}
	}
	return 0, 0
}
