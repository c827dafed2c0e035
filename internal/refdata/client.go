// Package refdata - клиент провайдера справочных данных по тикерам.
//
// Используется как основной источник обогащения акций/ETF: провайдер
// отдаёт last price, previous close и профиль компании батчем по списку
// символов, что на порядок дешевле поштучных запросов к шлюзу.
package refdata

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"portsync/internal/config"
	"portsync/pkg/retry"
	"portsync/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Quote - котировка одного символа от провайдера
type Quote struct {
	Symbol           string  `json:"symbol"`
	LastPrice        float64 `json:"last_price"`
	PrevClose        float64 `json:"prev_close"`
	DayChange        float64 `json:"day_change"`
	DayChangePercent float64 `json:"day_change_percent"`
}

// Profile - описательные метаданные символа
type Profile struct {
	Symbol   string `json:"symbol"`
	Sector   string `json:"sector"`
	Industry string `json:"industry"`
	Country  string `json:"country"`
}

// APIError - ошибка уровня HTTP от провайдера
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("refdata provider returned %d: %s", e.StatusCode, e.Body)
}

// Retryable: 5xx и 429 имеет смысл повторить, 4xx - нет
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client - HTTP клиент провайдера справочных данных
//
// Держит пул соединений: батчевые запросы идут на один хост,
// Keep-Alive убирает цену TLS handshake на каждый вызов.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *utils.Logger
}

// NewClient создаёт клиент провайдера
func NewClient(cfg config.RefDataConfig, log *utils.Logger) *Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		log: log.WithComponent("refdata"),
	}
}

// Quotes запрашивает котировки батчем по списку символов
//
// Провайдер может вернуть меньше символов, чем запрошено: отсутствующие
// в ответе символы не считаются ошибкой, вызывающий код обрабатывает
// пропуски per-symbol.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if len(symbols) == 0 {
		return map[string]Quote{}, nil
	}

	var quotes []Quote
	op := func() error {
		return c.get(ctx, "/v1/quotes", url.Values{"symbols": {strings.Join(symbols, ",")}}, &quotes)
	}

	if err := retry.Do(ctx, op, c.retryConfig()); err != nil {
		return nil, err
	}

	out := make(map[string]Quote, len(quotes))
	for _, q := range quotes {
		out[q.Symbol] = q
	}

	c.log.Debug("quotes fetched",
		utils.Int("requested", len(symbols)),
		utils.Int("returned", len(out)))

	return out, nil
}

// Profiles запрашивает профили батчем по списку символов
func (c *Client) Profiles(ctx context.Context, symbols []string) (map[string]Profile, error) {
	if len(symbols) == 0 {
		return map[string]Profile{}, nil
	}

	var profiles []Profile
	op := func() error {
		return c.get(ctx, "/v1/profiles", url.Values{"symbols": {strings.Join(symbols, ",")}}, &profiles)
	}

	if err := retry.Do(ctx, op, c.retryConfig()); err != nil {
		return nil, err
	}

	out := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		out[p.Symbol] = p
	}
	return out, nil
}

func (c *Client) retryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.RetryIf = func(err error) bool {
		return retry.RetryIfNotContext(err) && retry.IsRetryable(err)
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warn("refdata request retry",
			utils.Int("attempt", attempt),
			utils.String("delay", delay.String()),
			utils.Err(err))
	}
	return cfg
}

// get выполняет GET запрос и декодирует JSON ответ
func (c *Client) get(ctx context.Context, path string, query url.Values, dst interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build refdata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		ProviderRequests.WithLabelValues(path, "transport_error").Inc()
		return fmt.Errorf("refdata request %s: %w", path, err)
	}
	defer resp.Body.Close()

	ProviderLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		// Читаем тело ограниченно: достаточно для диагностики
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ProviderRequests.WithLabelValues(path, fmt.Sprintf("http_%d", resp.StatusCode)).Inc()
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		ProviderRequests.WithLabelValues(path, "read_error").Inc()
		return fmt.Errorf("read refdata response: %w", err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		ProviderRequests.WithLabelValues(path, "decode_error").Inc()
		return fmt.Errorf("decode refdata response: %w", err)
	}

	ProviderRequests.WithLabelValues(path, "ok").Inc()
	return nil
}
