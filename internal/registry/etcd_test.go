package registry_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/angeloszaimis/payment-router/internal/registry"
)

// fakeKV keeps keys in memory and treats every Get as a prefix range.
type fakeKV struct {
	clientv3.KV
	data    map[string]string
	putOpts map[string]int
	getErr  error
}

func (f *fakeKV) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}

	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		if strings.HasPrefix(k, key) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	resp := &clientv3.GetResponse{}
	for _, k := range keys {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(f.data[k])})
	}
	resp.Count = int64(len(resp.Kvs))
	return resp, nil
}

func (f *fakeKV) Put(_ context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.data[key] = val
	if f.putOpts != nil {
		f.putOpts[key] = len(opts)
	}
	return &clientv3.PutResponse{}, nil
}

// fakeLease grants sequential lease ids and closes a keepalive stream when
// its context is cancelled.
type fakeLease struct {
	clientv3.Lease

	mutex      sync.Mutex
	nextID     clientv3.LeaseID
	ttls       []int64
	keepAlives map[clientv3.LeaseID]context.Context
	revoked    []clientv3.LeaseID
}

func (f *fakeLease) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.nextID++
	f.ttls = append(f.ttls, ttl)
	return &clientv3.LeaseGrantResponse{ID: f.nextID, TTL: ttl}, nil
}

func (f *fakeLease) KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	f.mutex.Lock()
	f.keepAlives[id] = ctx
	f.mutex.Unlock()

	ch := make(chan *clientv3.LeaseKeepAliveResponse)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeLease) Revoke(_ context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.revoked = append(f.revoked, id)
	return &clientv3.LeaseRevokeResponse{}, nil
}

func (f *fakeLease) keepAliveContext(id clientv3.LeaseID) context.Context {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.keepAlives[id]
}

func (f *fakeKV) Delete(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	delete(f.data, key)
	return &clientv3.DeleteResponse{}, nil
}

var _ = Describe("EtcdRegistry", func() {
	var (
		kv  *fakeKV
		reg *registry.EtcdRegistry
		ctx context.Context
	)

	BeforeEach(func() {
		kv = &fakeKV{data: make(map[string]string)}
		log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		reg = registry.NewEtcd(kv, log)
		ctx = context.Background()
	})

	It("should store records under <service>/<id>", func() {
		Expect(reg.Register(ctx, "routing", registry.Record{ID: "routing1", Host: "localhost", Port: 8081})).To(Succeed())
		Expect(kv.data).To(HaveKey("routing/routing1"))
	})

	It("should reject service names containing a slash", func() {
		err := reg.Register(ctx, "pay/routing", registry.Record{ID: "routing1", Host: "localhost", Port: 8081})
		Expect(err).To(HaveOccurred())
	})

	It("should list instances of one service in key order", func() {
		Expect(reg.Register(ctx, "routing", registry.Record{ID: "routing3", Host: "localhost", Port: 8083})).To(Succeed())
		Expect(reg.Register(ctx, "routing", registry.Record{ID: "routing1", Host: "localhost", Port: 8081, Secure: true})).To(Succeed())
		Expect(reg.Register(ctx, "routingx", registry.Record{ID: "other", Host: "localhost", Port: 9000})).To(Succeed())

		set, err := reg.ListInstances(ctx, "routing")
		Expect(err).NotTo(HaveOccurred())
		Expect(set).To(HaveLen(2))
		Expect(set[0].ID()).To(Equal("routing1"))
		Expect(set[0].Secure()).To(BeTrue())
		Expect(set[1].ID()).To(Equal("routing3"))
	})

	It("should drop deregistered instances", func() {
		Expect(reg.Register(ctx, "routing", registry.Record{ID: "routing1", Host: "localhost", Port: 8081})).To(Succeed())
		Expect(reg.Register(ctx, "routing", registry.Record{ID: "routing2", Host: "localhost", Port: 8082})).To(Succeed())

		Expect(reg.Deregister(ctx, "routing", "routing1")).To(Succeed())

		set, err := reg.ListInstances(ctx, "routing")
		Expect(err).NotTo(HaveOccurred())
		Expect(set).To(HaveLen(1))
		Expect(set[0].ID()).To(Equal("routing2"))
	})

	Context("with a lease", func() {
		var lease *fakeLease

		BeforeEach(func() {
			lease = &fakeLease{keepAlives: make(map[clientv3.LeaseID]context.Context)}
			kv.putOpts = make(map[string]int)
			log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
			reg = registry.NewEtcd(kv, log, registry.WithLease(lease, 5))
		})

		It("should write the record under a kept-alive lease", func() {
			Expect(reg.Register(ctx, "routing", registry.Record{ID: "routing1", Host: "localhost", Port: 8081})).To(Succeed())

			Expect(lease.ttls).To(Equal([]int64{5}))
			Expect(kv.putOpts).To(HaveKeyWithValue("routing/routing1", 1))

			keepAliveCtx := lease.keepAliveContext(1)
			Expect(keepAliveCtx).NotTo(BeNil())
			Expect(keepAliveCtx.Err()).NotTo(HaveOccurred())
		})

		It("should outlive the registering request's context", func() {
			regCtx, cancel := context.WithCancel(ctx)
			Expect(reg.Register(regCtx, "routing", registry.Record{ID: "routing1", Host: "localhost", Port: 8081})).To(Succeed())
			cancel()

			Expect(lease.keepAliveContext(1).Err()).NotTo(HaveOccurred())
		})

		It("should stop renewing and revoke the lease on deregister", func() {
			Expect(reg.Register(ctx, "routing", registry.Record{ID: "routing1", Host: "localhost", Port: 8081})).To(Succeed())

			Expect(reg.Deregister(ctx, "routing", "routing1")).To(Succeed())

			Expect(lease.keepAliveContext(1).Err()).To(MatchError(context.Canceled))
			Expect(lease.revoked).To(Equal([]clientv3.LeaseID{1}))
			Expect(kv.data).NotTo(HaveKey("routing/routing1"))
		})

		It("should replace the lease of a re-registered instance", func() {
			rec := registry.Record{ID: "routing1", Host: "localhost", Port: 8081}
			Expect(reg.Register(ctx, "routing", rec)).To(Succeed())
			Expect(reg.Register(ctx, "routing", rec)).To(Succeed())

			Expect(lease.keepAliveContext(1).Err()).To(MatchError(context.Canceled))
			Expect(lease.keepAliveContext(2).Err()).NotTo(HaveOccurred())
		})
	})

	It("should skip malformed records", func() {
		kv.data["routing/bad"] = "not json"
		Expect(reg.Register(ctx, "routing", registry.Record{ID: "routing1", Host: "localhost", Port: 8081})).To(Succeed())

		set, err := reg.ListInstances(ctx, "routing")
		Expect(err).NotTo(HaveOccurred())
		Expect(set).To(HaveLen(1))
	})

	It("should wrap backend errors", func() {
		kv.getErr = errors.New("etcdserver: request timed out")
		_, err := reg.ListInstances(ctx, "routing")
		Expect(err).To(MatchError(ContainSubstring("request timed out")))
	})
})
