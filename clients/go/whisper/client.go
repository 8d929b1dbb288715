// Package whisper provides a client for the Whisper chat API and socket relay.
package whisper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// CookieName is the server's session cookie.
const CookieName = "whisper.sid"

// Client is a Whisper API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	UserID     string
	HTTPClient *http.Client
}

// Config holds the saved login.
type Config struct {
	UserID string `json:"user_id"`
	Cookie string `json:"cookie"`
}

// NewClient creates a new Whisper client and restores a saved login, if any.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("WHISPER_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".whisper")
	}

	jar, _ := cookiejar.New(nil)
	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second, Jar: jar},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig restores the session cookie saved by SaveConfig.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "session.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	c.HTTPClient.Jar.SetCookies(u, []*http.Cookie{{Name: CookieName, Value: config.Cookie, Path: "/"}})
	c.UserID = config.UserID
	return nil
}

// SaveConfig writes the current session cookie to disk.
func (c *Client) SaveConfig() error {
	cookie := c.sessionCookie()
	if cookie == nil {
		return errors.New("not logged in")
	}

	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Config{UserID: c.UserID, Cookie: cookie.Value}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "session.json"), data, 0600)
}

// ClearConfig forgets the saved login.
func (c *Client) ClearConfig() error {
	err := os.Remove(filepath.Join(c.ConfigDir, "session.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Client) sessionCookie() *http.Cookie {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil
	}
	for _, cookie := range c.HTTPClient.Jar.Cookies(u) {
		if cookie.Name == CookieName {
			return cookie
		}
	}
	return nil
}

// envelope is the shape of every API response.
type envelope struct {
	Message string          `json:"message"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	// Set by middleware rejections instead of Message.
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whisper error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes the envelope's data into out.
func (c *Client) doRequest(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	_ = json.Unmarshal(respBody, &env)

	if resp.StatusCode >= 400 {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// User is a user account as returned to its owner.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	ProfilePicture string    `json:"profile_picture"`
	IsOnline       bool      `json:"is_online"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// Message is a stored direct message.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Body      string    `json:"message"`
	Seen      bool      `json:"seen"`
	CreatedAt time.Time `json:"created_at"`
}

type credentials struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account. It does not log in.
func (c *Client) Register(username, email, password string) (*User, error) {
	var user User
	if err := c.doRequest("POST", "/api/users/register", credentials{username, email, password}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login starts a session; the cookie is kept in the client's jar.
func (c *Client) Login(email, password string) (*User, error) {
	var user User
	if err := c.doRequest("POST", "/api/users/login", credentials{Email: email, Password: password}, &user); err != nil {
		return nil, err
	}
	c.UserID = user.ID
	return &user, nil
}

// Logout ends the session.
func (c *Client) Logout() error {
	if err := c.doRequest("POST", "/api/users/logout", nil, nil); err != nil {
		return err
	}
	c.UserID = ""
	return nil
}

// Users lists every user.
func (c *Client) Users() ([]User, error) {
	var users []User
	err := c.doRequest("GET", "/api/users", nil, &users)
	return users, err
}

// GetUser returns one user's profile.
func (c *Client) GetUser(id string) (*User, error) {
	var user User
	if err := c.doRequest("GET", "/api/users/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser replaces the logged-in user's credentials.
func (c *Client) UpdateUser(username, email, password string) (*User, error) {
	var user User
	if err := c.doRequest("PUT", "/api/users/edit/"+url.PathEscape(c.UserID), credentials{username, email, password}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteAccount deletes the logged-in user.
func (c *Client) DeleteAccount() error {
	if err := c.doRequest("DELETE", "/api/users/delete/"+url.PathEscape(c.UserID), nil, nil); err != nil {
		return err
	}
	c.UserID = ""
	return nil
}

// OnlineUsers lists users whose online flag is set.
func (c *Client) OnlineUsers() ([]User, error) {
	var users []User
	err := c.doRequest("GET", "/api/messages/users/online", nil, &users)
	return users, err
}

// History returns the conversation with peer, oldest first.
func (c *Client) History(peer string) ([]Message, error) {
	var messages []Message
	err := c.doRequest("GET", "/api/messages/"+url.PathEscape(peer), nil, &messages)
	return messages, err
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	req, err := http.NewRequest("GET", c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}
