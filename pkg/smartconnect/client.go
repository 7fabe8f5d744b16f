// Package smartconnect is the subset of the Angel One SmartAPI REST surface
// the guards and the watcher use: TOTP login, LTP, order book, positions,
// historical candles and order place/modify/cancel. Bodies come back as
// decoded JSON maps; failures as *APIError.
package smartconnect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ---- Config & client ----

type Config struct {
	APIKey       string
	AccessToken  string
	RefreshToken string
	FeedToken    string
	UserID       string

	RootURL        string        // default: https://apiconnect.angelone.in
	Debug          bool          // log request/response bodies
	Timeout        time.Duration // default: 7s
	ProxyURL       string        // optional HTTP proxy URL
	DisableSSL     bool          // if true, InsecureSkipVerify
	UserType       string        // default: USER
	SourceID       string        // default: WEB
	ClientPublicIP string        // default 106.193.147.98
	ClientLocalIP  string        // default resolved, else 127.0.0.1
	ClientMAC      string        // default from interface MAC
	HTTPClient     *http.Client  // overrides the transport built from the fields above
}

type SmartConnect struct {
	apiKey       string
	accessToken  string
	refreshToken string
	feedToken    string
	userID       string

	rootURL string
	debug   bool

	httpClient *http.Client

	userType string
	sourceID string

	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	// Optional callback for 403 TokenException
	SessionExpiryHook func()
}

const (
	defaultRoot     = "https://apiconnect.angelone.in"
	defaultPublicIP = "106.193.147.98"
	accept          = "application/json"
)

var routes = map[string]string{
	"api.login": "/rest/auth/angelbroking/user/v1/loginByPassword",

	"api.order.place":  "/rest/secure/angelbroking/order/v1/placeOrder",
	"api.order.modify": "/rest/secure/angelbroking/order/v1/modifyOrder",
	"api.order.cancel": "/rest/secure/angelbroking/order/v1/cancelOrder",
	"api.order.book":   "/rest/secure/angelbroking/order/v1/getOrderBook",

	"api.ltp.data":    "/rest/secure/angelbroking/order/v1/getLtpData",
	"api.position":    "/rest/secure/angelbroking/order/v1/getPosition",
	"api.candle.data": "/rest/secure/angelbroking/historical/v1/getCandleData",
}

// APIError is a failed SmartAPI call: transport-level success but an error
// body, a status=false envelope, an undecodable body, or a non-2xx status.
type APIError struct {
	Route     string
	Status    int
	ErrorType string // e.g. TokenException, DataException
	Code      string // SmartAPI errorcode, e.g. AB1004
	Message   string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("smartconnect ")
	b.WriteString(e.Route)
	b.WriteString(": ")
	if e.ErrorType != "" {
		b.WriteString(e.ErrorType)
		b.WriteString(": ")
	}
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(" ")
	}
	b.WriteString(e.Message)
	if e.Status != 0 && e.Status != http.StatusOK {
		fmt.Fprintf(&b, " (http %d)", e.Status)
	}
	return b.String()
}

// ErrSessionExpired is matched by APIErrors that carry a TokenException.
var ErrSessionExpired = errors.New("session expired")

func (e *APIError) Is(target error) bool {
	return target == ErrSessionExpired && e.ErrorType == "TokenException"
}

// GetPublicIP asks ipify for the egress address.
func GetPublicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.ipify.org?format=text", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	ip, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(ip)), nil
}

// localIP returns the first non-loopback IPv4 address, sent as
// X-ClientLocalIP.
func localIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, address := range addrs {
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no local IP found")
}

// NewSmartConnect initializes the client.
func NewSmartConnect(cfg Config) *SmartConnect {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.UserType == "" {
		cfg.UserType = "USER"
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "WEB"
	}
	if cfg.ClientLocalIP == "" {
		ip, err := localIP()
		if err != nil {
			log.Printf("[smartconnect] local IP: %v", err)
		}
		cfg.ClientLocalIP = firstNonEmpty(ip, "127.0.0.1")
	}
	cfg.ClientPublicIP = firstNonEmpty(cfg.ClientPublicIP, defaultPublicIP)
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = getMACFallback()
	}

	client := cfg.HTTPClient
	if client == nil {
		tr := &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: cfg.DisableSSL,
			},
		}
		if cfg.ProxyURL != "" {
			if purl, err := url.Parse(cfg.ProxyURL); err == nil {
				tr.Proxy = http.ProxyURL(purl)
			}
		}
		client = &http.Client{Transport: tr, Timeout: cfg.Timeout}
	}

	return &SmartConnect{
		apiKey:         cfg.APIKey,
		accessToken:    cfg.AccessToken,
		refreshToken:   cfg.RefreshToken,
		feedToken:      cfg.FeedToken,
		userID:         cfg.UserID,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     client,
		userType:       cfg.UserType,
		sourceID:       cfg.SourceID,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getMACFallback() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Helpers ----

func (sc *SmartConnect) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", accept)
	h.Set("Accept", accept)
	h.Set("X-ClientLocalIP", sc.clientLocalIP)
	h.Set("X-ClientPublicIP", sc.clientPublicIP)
	h.Set("X-MACAddress", sc.clientMAC)
	h.Set("X-PrivateKey", sc.apiKey)
	h.Set("X-UserType", sc.userType)
	h.Set("X-SourceID", sc.sourceID)
	if sc.accessToken != "" {
		h.Set("Authorization", "Bearer "+sc.accessToken)
	}
	return h
}

func (sc *SmartConnect) buildURL(route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	return sc.rootURL + uri, nil
}

func (sc *SmartConnect) doRequest(ctx context.Context, method, route string, params map[string]any) (map[string]any, error) {
	fullURL, err := sc.buildURL(route)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	reqURL := fullURL

	if method == http.MethodGet {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, toString(v))
			}
			reqURL += "?" + q.Encode()
		}
	} else {
		if params == nil {
			params = map[string]any{}
		}
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("smartconnect %s: encode params: %w", route, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header = sc.requestHeaders()

	if sc.debug {
		log.Printf("[smartconnect] request: %s %s params=%v", method, reqURL, params)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smartconnect %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("smartconnect %s: read body: %w", route, err)
	}

	if sc.debug {
		log.Printf("[smartconnect] response: code=%d body=%s", resp.StatusCode, string(raw))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &APIError{Route: route, Status: resp.StatusCode, Message: "Too many requests"}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &APIError{Route: route, Status: resp.StatusCode, Message: "empty response body"}
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &APIError{
			Route:   route,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("Couldn't parse the JSON response received from the server: %s", snippet(raw)),
		}
	}

	// Handle API error style: {"error_type": "TokenException", "message": "..."}
	if et, ok := out["error_type"].(string); ok && et != "" {
		if sc.SessionExpiryHook != nil && resp.StatusCode == http.StatusForbidden && et == "TokenException" {
			sc.SessionExpiryHook()
		}
		msg, _ := out["message"].(string)
		return out, &APIError{Route: route, Status: resp.StatusCode, ErrorType: et, Message: msg}
	}
	if st, ok := out["status"].(bool); ok && !st {
		msg, _ := out["message"].(string)
		code, _ := out["errorcode"].(string)
		return out, &APIError{Route: route, Status: resp.StatusCode, Code: code, Message: msg}
	}
	if resp.StatusCode >= 300 {
		return out, &APIError{Route: route, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return out, nil
}

func snippet(raw []byte) string {
	const max = 120
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func (sc *SmartConnect) get(ctx context.Context, route string, params map[string]any) (map[string]any, error) {
	return sc.doRequest(ctx, http.MethodGet, route, params)
}

func (sc *SmartConnect) post(ctx context.Context, route string, params map[string]any) (map[string]any, error) {
	return sc.doRequest(ctx, http.MethodPost, route, params)
}

// ---- Setters/Getters ----

func (sc *SmartConnect) SetUserID(id string)      { sc.userID = id }
func (sc *SmartConnect) GetUserID() string        { return sc.userID }
func (sc *SmartConnect) SetAccessToken(t string)  { sc.accessToken = t }
func (sc *SmartConnect) SetRefreshToken(t string) { sc.refreshToken = t }
func (sc *SmartConnect) SetFeedToken(t string)    { sc.feedToken = t }
func (sc *SmartConnect) GetFeedToken() string     { return sc.feedToken }
func (sc *SmartConnect) HasSession() bool         { return sc.accessToken != "" }

// ---- Session ----

// GenerateSession logs in with client code, PIN/password and a TOTP, stores
// the issued tokens and returns the raw login payload.
func (sc *SmartConnect) GenerateSession(ctx context.Context, clientCode, password, totp string) (map[string]any, error) {
	params := map[string]any{"clientcode": clientCode, "password": password, "totp": totp}
	res, err := sc.post(ctx, "api.login", params)
	if err != nil {
		return res, err
	}
	data, ok := res["data"].(map[string]any)
	if !ok {
		return res, &APIError{Route: "api.login", Message: "unexpected login response format"}
	}

	jwtToken, _ := data["jwtToken"].(string)
	refreshToken, _ := data["refreshToken"].(string)
	feedToken, _ := data["feedToken"].(string)
	if jwtToken == "" {
		return res, &APIError{Route: "api.login", Message: "login response carried no jwtToken"}
	}

	sc.SetAccessToken(jwtToken)
	sc.SetRefreshToken(refreshToken)
	sc.SetFeedToken(feedToken)
	sc.SetUserID(clientCode)
	return res, nil
}

// ---- Orders ----

// PlaceOrder submits an order and returns the broker order id.
func (sc *SmartConnect) PlaceOrder(ctx context.Context, params map[string]any) (string, error) {
	cleanNil(params)
	res, err := sc.post(ctx, "api.order.place", params)
	if err != nil {
		return "", err
	}
	if data, ok := res["data"].(map[string]any); ok {
		if oid, _ := data["orderid"].(string); oid != "" {
			return oid, nil
		}
	}
	return "", &APIError{Route: "api.order.place", Message: fmt.Sprintf("invalid response format: %v", res)}
}

func (sc *SmartConnect) ModifyOrder(ctx context.Context, params map[string]any) (map[string]any, error) {
	cleanNil(params)
	return sc.post(ctx, "api.order.modify", params)
}

func (sc *SmartConnect) CancelOrder(ctx context.Context, orderID, variety string) (map[string]any, error) {
	return sc.post(ctx, "api.order.cancel", map[string]any{"variety": variety, "orderid": orderID})
}

func (sc *SmartConnect) OrderBook(ctx context.Context) (map[string]any, error) {
	return sc.get(ctx, "api.order.book", nil)
}

func (sc *SmartConnect) Position(ctx context.Context) (map[string]any, error) {
	return sc.get(ctx, "api.position", nil)
}

// ---- Market data ----

func (sc *SmartConnect) LTPData(ctx context.Context, exchange, tradingSymbol, symbolToken string) (map[string]any, error) {
	return sc.post(ctx, "api.ltp.data", map[string]any{
		"exchange":      exchange,
		"tradingsymbol": tradingSymbol,
		"symboltoken":   symbolToken,
	})
}

// GetCandleData fetches historical candles. fromdate/todate use "2006-01-02 15:04".
func (sc *SmartConnect) GetCandleData(ctx context.Context, params map[string]any) (map[string]any, error) {
	cleanNil(params)
	return sc.post(ctx, "api.candle.data", params)
}

// ---- Utils ----

func cleanNil(m map[string]any) {
	for k, v := range m {
		if v == nil {
			delete(m, k)
		}
	}
}
