// Package portal is a client for the Jätekukko customer portal.
//
// The portal uses a form login that establishes a session cookie; every
// subsequent call reuses the session until the portal answers 401.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andreweacott/jatekukko-exporter/pkg/logger"
)

// DefaultBaseURL is the production portal address
const DefaultBaseURL = "https://tilasto.jatekukko.fi/"

const defaultTimeout = 30 * time.Second

// Client talks to the customer portal on behalf of one customer
type Client struct {
	baseURL        *url.URL
	customerNumber string
	password       string
	httpClient     *http.Client
	log            *logger.Logger

	mu       sync.Mutex
	loggedIn bool
}

// NewClient creates a portal client. A nil httpClient gets a default one with a cookie jar.
func NewClient(baseURL, customerNumber, password string, httpClient *http.Client, log *logger.Logger) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal URL %q: %w", baseURL, err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	if log == nil {
		log = logger.Discard()
	}

	return &Client{
		baseURL:        parsed,
		customerNumber: customerNumber,
		password:       password,
		httpClient:     httpClient,
		log:            log,
	}, nil
}

// CustomerNumber returns the customer number the client authenticates as
func (c *Client) CustomerNumber() string {
	return c.customerNumber
}

// SetPassword replaces the password used for future logins and drops the current session
func (c *Client) SetPassword(password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.password = password
	c.loggedIn = false
}

// Login establishes a portal session
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	password := c.password
	c.mu.Unlock()

	form := url.Values{}
	form.Set("j_username", c.customerNumber)
	form.Set("j_password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("j_security_check"), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := c.do(req, "login"); err != nil {
		return err
	}

	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()

	c.log.WithCustomerNumber(c.customerNumber).Debug("Logged in to portal")
	return nil
}

// Logout ends the portal session
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("logout.jsp"), nil)
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	_, err = c.do(req, "logout")
	return err
}

// GetServices lists the customer's collection services
func (c *Client) GetServices(ctx context.Context) ([]Service, error) {
	var services []Service
	if err := c.getJSON(ctx, "get services", c.customerPath("services"), &services); err != nil {
		return nil, err
	}
	return services, nil
}

// GetCollectionSchedule returns the upcoming collection dates of a service
func (c *Client) GetCollectionSchedule(ctx context.Context, service Service) ([]Date, error) {
	var schedule []Date
	path := c.customerPath("services", strconv.Itoa(service.Pos), "schedule")
	if err := c.getJSON(ctx, "get collection schedule", path, &schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

// GetInvoiceHeaders returns the customer's invoice headers
func (c *Client) GetInvoiceHeaders(ctx context.Context) ([]InvoiceHeader, error) {
	var headers []InvoiceHeader
	if err := c.getJSON(ctx, "get invoice headers", c.customerPath("invoices"), &headers); err != nil {
		return nil, err
	}
	return headers, nil
}

// GetCustomerData returns customer records keyed by customer number
func (c *Client) GetCustomerData(ctx context.Context) (map[string][]Customer, error) {
	var customers []Customer
	if err := c.getJSON(ctx, "get customer data", c.customerPath(), &customers); err != nil {
		return nil, err
	}

	byNumber := make(map[string][]Customer, len(customers))
	for _, customer := range customers {
		byNumber[customer.Number] = append(byNumber[customer.Number], customer)
	}
	return byNumber, nil
}

// getJSON performs an authenticated GET, logging in first when there is no session.
// A 401 on an existing session means the session expired: the client logs in
// once more and retries. 401 is returned only when a fresh session is rejected.
func (c *Client) getJSON(ctx context.Context, op, path string, dest interface{}) error {
	c.mu.Lock()
	hadSession := c.loggedIn
	c.mu.Unlock()

	if !hadSession {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}

	body, err := c.get(ctx, op, path)
	if err != nil && hadSession && IsUnauthorized(err) {
		c.log.Debug("Portal session expired, logging in again", "op", op)
		c.dropSession()
		if err := c.Login(ctx); err != nil {
			return err
		}
		body, err = c.get(ctx, op, path)
	}
	if err != nil {
		if IsUnauthorized(err) {
			c.dropSession()
		}
		return err
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", op, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, op)
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	c.log.Debug("Portal request", "op", op, "method", req.Method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode}
	}

	return body, nil
}

func (c *Client) customerPath(elems ...string) string {
	parts := append([]string{"api", "customers", c.customerNumber}, elems...)
	return strings.Join(parts, "/")
}

func (c *Client) resolve(path string) string {
	return c.baseURL.ResolveReference(&url.URL{Path: path}).String()
}
