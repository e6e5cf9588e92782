// Package classifier talks to the Puppet Enterprise node classifier over
// mutually authenticated TLS.
package classifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/mpilhlt/pe-platform-classes/internal/models"
	"github.com/mpilhlt/pe-platform-classes/internal/puppet"

	"github.com/sirupsen/logrus"
)

// GroupsPath is the classifier's node group collection.
const GroupsPath = "/classifier-api/v1/groups"

// Error responses
var (
	ErrNoCACertificates = errors.New("no CA certificates found")
	ErrMissingServer    = errors.New("classifier hostname is empty")
)

// Config describes how to reach the classifier.
type Config struct {
	Server      string
	Port        int
	Timeout     time.Duration
	Hostcert    string
	Hostprivkey string
	Localcacert string
	Logger      logrus.FieldLogger
}

// NewConfig combines CLI options and resolved Puppet settings.
// The classifier runs on the node itself unless a server is given.
func NewConfig(options *models.Options, settings puppet.Settings) Config {
	server := options.Server
	if server == "" {
		server = settings.Certname
	}
	port := options.Port
	if port == 0 {
		port = models.DefaultPort
	}
	return Config{
		Server:      server,
		Port:        port,
		Timeout:     time.Duration(options.Timeout) * time.Second,
		Hostcert:    settings.Hostcert,
		Hostprivkey: settings.Hostprivkey,
		Localcacert: settings.Localcacert,
	}
}

// Response is the raw outcome of an update request.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client is a classifier API client.
type Client struct {
	baseURL string
	http    *http.Client
	log     logrus.FieldLogger
}

// New loads the trust material and returns a client for the configured classifier.
// Problems with the trust material are reported as transport errors.
func New(cfg Config) (*Client, error) {
	if cfg.Server == "" {
		return nil, models.NewTaskError(models.KindTransport, ErrMissingServer, "unable to configure classifier client")
	}
	tlsConfig, err := TLSConfig(cfg.Hostcert, cfg.Hostprivkey, cfg.Localcacert)
	if err != nil {
		return nil, models.NewTaskError(models.KindTransport, err, "unable to load trust material")
	}
	tlsConfig.ServerName = cfg.Server

	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Client{
		baseURL: (&url.URL{Scheme: "https", Host: net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))}).String(),
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig:   tlsConfig,
				ForceAttemptHTTP2: true,
			},
		},
		log: log,
	}, nil
}

// TLSConfig builds a client TLS configuration from PEM files: a certificate,
// its private key and the CA bundle the server certificate must chain to.
func TLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to load client certificate %s: %w", certFile, err)
	}
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("%w in %s", ErrNoCACertificates, caFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// BaseURL returns the scheme, host and port requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListGroups fetches every node group.
func (c *Client) ListGroups(ctx context.Context) ([]models.NodeGroup, error) {
	c.log.WithField("url", c.baseURL+GroupsPath).Debug("Fetching node groups ...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+GroupsPath, nil)
	if err != nil {
		return nil, models.NewTaskError(models.KindTransport, err, "unable to create group listing request")
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return nil, models.NewTaskError(models.KindTransport, err, "unable to list node groups")
	}
	if status != http.StatusOK {
		return nil, models.NewTaskError(models.KindTransport, nil,
			"Failed to list node groups. Response: %d - %s", status, string(body))
	}

	groups, err := models.DecodeGroups(body)
	if err != nil {
		return nil, models.NewTaskError(models.KindMalformedResponse, err, "unexpected group listing")
	}
	c.log.WithField("count", len(groups)).Debug("Fetched node groups")
	return groups, nil
}

// UpdateGroup posts a class removal to a group. Any HTTP status is returned
// to the caller, only failures to complete the exchange are errors.
func (c *Client) UpdateGroup(ctx context.Context, id string, payload models.ClassRemovalRequest) (*Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("unable to encode group update: %w", err)
	}
	target := c.baseURL + GroupsPath + "/" + url.PathEscape(id)
	c.log.WithFields(logrus.Fields{"url": target, "classes": payload.Classes.Names()}).Debug("Updating node group ...")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, models.NewTaskError(models.KindTransport, err, "unable to create group update request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return nil, models.NewTaskError(models.KindTransport, err, "unable to update node group %s", id)
	}
	c.log.WithField("status", status).Debug("Node group update answered")
	return &Response{StatusCode: status, Body: body}, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("unable to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}
