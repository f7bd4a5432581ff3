package discovery

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// MDNSAdvertiser publishes one _ship._tcp instance with zeroconf. A new
// Advertise call replaces the running registration.
type MDNSAdvertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

func NewMDNSAdvertiser(config AdvertiserConfig) (*MDNSAdvertiser, error) {
	return &MDNSAdvertiser{config: config}, nil
}

// Advertise starts advertising the node.
func (a *MDNSAdvertiser) Advertise(ctx context.Context, info *NodeInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.shutdownLocked()

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		info.instanceName(),
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(EncodeNodeTXT(info)),
		lookupInterface(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register ship service: %w", err)
	}

	a.server = server
	return nil
}

// Update replaces the TXT records of the running advertisement.
func (a *MDNSAdvertiser) Update(info *NodeInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotFound
	}
	a.server.SetText(TXTRecordsToStrings(EncodeNodeTXT(info)))
	return nil
}

// Stop withdraws the advertisement.
func (a *MDNSAdvertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
	return nil
}

func (a *MDNSAdvertiser) shutdownLocked() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// MDNSBrowser discovers _ship._tcp instances with zeroconf.
type MDNSBrowser struct {
	config BrowserConfig

	mu      sync.Mutex
	stopped bool
	cancels []context.CancelFunc
}

func NewMDNSBrowser(config BrowserConfig) (*MDNSBrowser, error) {
	return &MDNSBrowser{
		config: config,
	}, nil
}

// Browse streams service events until ctx is done or Stop is called.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan ServiceEvent, error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, context.Canceled
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()

	out := make(chan ServiceEvent)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)
		aggregate(ctx, entries, removed, out, b.config.Filter)
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.browserOptions()...)
	}()

	return out, nil
}

// FindBySKI searches for the node advertising ski.
func (b *MDNSBrowser) FindBySKI(ctx context.Context, ski string) (*NodeService, error) {
	if b.config.BrowseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.BrowseTimeout)
		defer cancel()
	}

	events, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	match := FilterBySKI(ski)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, ErrNotFound
			}
			if ev.Kind != ServiceRemoved && match(ev.Service) {
				return ev.Service, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNotFound, ctx.Err())
		}
	}
}

// Stop stops all active browsing operations.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
}

func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if ifaces := lookupInterface(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	return opts
}

// aggregate turns zeroconf entries into service events until ctx is done or
// entries is closed.
func aggregate(ctx context.Context, entries, removed <-chan *zeroconf.ServiceEntry, out chan<- ServiceEvent, filter FilterFunc) {
	table := serviceTable{services: make(map[string]*NodeService), filter: filter}

	for {
		var ev ServiceEvent
		var changed bool
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			ev, changed = table.add(entry)
		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			ev, changed = table.remove(entry)
		case <-ctx.Done():
			return
		}
		if !changed {
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// serviceTable tracks live instances. Entries for the same instance seen on
// several interfaces are folded into one service with the union of their
// addresses.
type serviceTable struct {
	services map[string]*NodeService
	filter   FilterFunc
}

// add records entry. Entries with invalid TXT records or rejected by the
// filter are ignored, as are re-announcements that add no address.
func (t *serviceTable) add(entry *zeroconf.ServiceEntry) (ServiceEvent, bool) {
	svc := entryToNode(entry)
	if svc == nil || (t.filter != nil && !t.filter(svc)) {
		return ServiceEvent{}, false
	}

	existing, found := t.services[svc.InstanceName]
	if !found {
		t.services[svc.InstanceName] = svc
		return snapshot(ServiceAdded, svc), true
	}

	grew := false
	for _, addr := range svc.Addresses {
		if !slices.Contains(existing.Addresses, addr) {
			existing.Addresses = append(existing.Addresses, addr)
			grew = true
		}
	}
	return snapshot(ServiceUpdated, existing), grew
}

// remove applies a goodbye. The instance is reported removed once its last
// address is gone; a goodbye without addresses withdraws it at once.
func (t *serviceTable) remove(entry *zeroconf.ServiceEntry) (ServiceEvent, bool) {
	existing, found := t.services[entry.Instance]
	if !found {
		return ServiceEvent{}, false
	}

	gone := entryAddresses(entry)
	if len(gone) == 0 {
		existing.Addresses = nil
	} else {
		existing.Addresses = slices.DeleteFunc(existing.Addresses, func(addr string) bool {
			return slices.Contains(gone, addr)
		})
	}
	if len(existing.Addresses) > 0 {
		return ServiceEvent{}, false
	}
	delete(t.services, entry.Instance)
	return snapshot(ServiceRemoved, existing), true
}

// snapshot copies svc so receivers never share the table's slices.
func snapshot(kind EventKind, svc *NodeService) ServiceEvent {
	cp := *svc
	cp.Addresses = slices.Clone(svc.Addresses)
	return ServiceEvent{Kind: kind, Service: &cp}
}

func entryToNode(entry *zeroconf.ServiceEntry) *NodeService {
	info, err := DecodeNodeTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil
	}

	return &NodeService{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    entryAddresses(entry),
		ID:           info.ID,
		SKI:          info.SKI,
		Path:         info.Path,
		Register:     info.Register,
		Brand:        info.Brand,
		Model:        info.Model,
		Type:         info.Type,
	}
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

func lookupInterface(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

var (
	_ Advertiser = (*MDNSAdvertiser)(nil)
	_ Browser    = (*MDNSBrowser)(nil)
)
