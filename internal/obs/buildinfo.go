package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coachlink_build_info",
			Help: "Build information of the running binary.",
		},
		[]string{"binary", "version", "commit"},
	)
)

// InitBuildInfo publishes coachlink_build_info{binary,version,commit} = 1.
func InitBuildInfo(binary, version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(binary, version, commit).Set(1)
}
