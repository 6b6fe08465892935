package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/maytees/homifyai-sub000/internal/types"
	"github.com/maytees/homifyai-sub000/pkg/storage"
)

// ReferenceLoader resolves the reference image named in a generate request.
type ReferenceLoader interface {
	Load(ctx context.Context, userID uuid.UUID, ref string) (data []byte, mediaType string, err error)
}

var _ ReferenceLoader = (*StoreReferenceLoader)(nil)

// StoreReferenceLoader accepts either an object key under the caller's prefix or an https URL.
type StoreReferenceLoader struct {
	store    storage.ObjectStore
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// errNonPublicAddress is returned by the dialer for loopback, private and other internal targets.
var errNonPublicAddress = errors.New("address is not publicly routable")

// NewPublicHTTPClient returns a client that only connects to public unicast addresses.
// The check runs on every dial, after DNS resolution, so redirects and rebinding are covered.
func NewPublicHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: publicAddressControl,
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               nil,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func publicAddressControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", errNonPublicAddress, host)
	}
	if !isPublicAddr(addr) {
		return fmt.Errorf("%w: %s", errNonPublicAddress, addr)
	}
	return nil
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("64:ff9b::/96"), // NAT64 can reach v4 internals
}

func isPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() || !addr.IsGlobalUnicast() ||
		addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsMulticast() {
		return false
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

func NewReferenceLoader(store storage.ObjectStore, client *http.Client, maxBytes int64, logger *slog.Logger) *StoreReferenceLoader {
	if client == nil {
		client = NewPublicHTTPClient(20 * time.Second)
	}
	return &StoreReferenceLoader{
		store:    store,
		client:   client,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

func (r *StoreReferenceLoader) Load(ctx context.Context, userID uuid.UUID, ref string) ([]byte, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, "", fmt.Errorf("%w: imageUrl is required", types.ErrBadRequest)
	}

	if strings.Contains(ref, "://") {
		return r.fetch(ctx, ref)
	}

	if !storage.OwnedBy(ref, userID) {
		return nil, "", fmt.Errorf("%w: reference image does not belong to the caller", types.ErrForbidden)
	}
	data, mediaType, err := r.store.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: reference image not found", types.ErrBadRequest)
		}
		return nil, "", fmt.Errorf("failed to read reference image: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, "", fmt.Errorf("%w: reference image exceeds %d bytes", types.ErrBadRequest, r.maxBytes)
	}
	if mediaType == "" {
		mediaType = storage.MediaTypeFor(ref)
	}
	return data, mediaType, nil
}

func (r *StoreReferenceLoader) fetch(ctx context.Context, raw string) ([]byte, string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, "", fmt.Errorf("%w: imageUrl must be an https URL or an uploaded image key", types.ErrBadRequest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid imageUrl", types.ErrBadRequest)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, errNonPublicAddress) {
			r.logger.WarnContext(ctx, "Refused reference image on internal address", slog.String("host", u.Host))
			return nil, "", fmt.Errorf("%w: imageUrl must point to a public host", types.ErrBadRequest)
		}
		r.logger.WarnContext(ctx, "Failed to fetch reference image", slog.String("host", u.Host), slog.Any("error", err))
		return nil, "", fmt.Errorf("%w: reference image could not be fetched", types.ErrBadRequest)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: reference image returned status %d", types.ErrBadRequest, resp.StatusCode)
	}
	mediaType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if _, ok := storage.ExtensionFor(mediaType); !ok {
		return nil, "", fmt.Errorf("%w: unsupported reference image type %q", types.ErrBadRequest, mediaType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read reference image: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, "", fmt.Errorf("%w: reference image exceeds %d bytes", types.ErrBadRequest, r.maxBytes)
	}
	return data, mediaType, nil
}
