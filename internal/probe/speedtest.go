package probe

import (
	"context"
	"fmt"
	"sort"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	"pulsemon/internal/sched"
)

type speedtestProbe struct {
	saving bool
}

// NewSpeedtest returns a processor that measures network throughput against
// the nearest speedtest.net server: latency, download and upload. With
// saving enabled the library trades accuracy for a lighter footprint.
func NewSpeedtest(saving bool) sched.Processor {
	return &speedtestProbe{saving: saving}
}

func (p *speedtestProbe) Process(ctx context.Context, name string, ordinal int) (sched.Result, error) {
	start := time.Now()

	// Fresh client per run; speedtest-go keeps per-client state that should
	// not leak across iterations.
	client := st.New(st.WithUserConfig(&st.UserConfig{SavingMode: p.saving}))
	defer func() {
		client.Snapshots().Clean()
		client.Reset()
	}()

	servers, err := client.FetchServerListContext(ctx)
	if err != nil {
		return sched.Result{}, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return sched.Result{}, fmt.Errorf("no speedtest servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	srv := servers[0]

	if err := srv.PingTestContext(ctx, nil); err != nil {
		return sched.Result{}, fmt.Errorf("ping %s: %w", srv.Host, err)
	}
	if err := srv.DownloadTestContext(ctx); err != nil {
		return sched.Result{}, fmt.Errorf("download %s: %w", srv.Host, err)
	}
	if err := srv.UploadTestContext(ctx); err != nil {
		return sched.Result{}, fmt.Errorf("upload %s: %w", srv.Host, err)
	}

	took := time.Since(start)
	dl := srv.DLSpeed.Mbps()
	ul := srv.ULSpeed.Mbps()

	return sched.Result{
		Runner:  name,
		Ordinal: ordinal,
		Summary: fmt.Sprintf("%.1f/%.1f Mbps, ping %s via %s", dl, ul, srv.Latency.Round(time.Millisecond), srv.Sponsor),
		Data: map[string]any{
			"download_mbps": dl,
			"upload_mbps":   ul,
			"ping_ms":       float64(srv.Latency.Milliseconds()),
			"server":        srv.Sponsor,
			"country":       srv.Country,
			"took_ms":       took.Milliseconds(),
		},
	}, nil
}
