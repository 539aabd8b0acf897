package jobs

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper runs one liveness cycle over every tracked connection.
type Sweeper interface {
	Sweep() (probed, terminated int)
}

// LivenessJob pings every connection once per interval and terminates the
// ones that did not answer the previous ping.
type LivenessJob struct {
	sweeper  Sweeper
	interval time.Duration
	done     chan struct{}
}

func NewLivenessJob(sweeper Sweeper, interval time.Duration) *LivenessJob {
	return &LivenessJob{
		sweeper:  sweeper,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *LivenessJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("liveness job started")
}

func (j *LivenessJob) Stop() {
	close(j.done)
	log.Info().Msg("liveness job stopped")
}

func (j *LivenessJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *LivenessJob) sweep() {
	probed, terminated := j.sweeper.Sweep()
	if terminated > 0 {
		log.Info().Int("terminated", terminated).Int("probed", probed).Msg("terminated unresponsive connections")
		return
	}
	log.Debug().Int("probed", probed).Msg("liveness sweep")
}
