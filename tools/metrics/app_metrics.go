package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChRequestDenied  = make(chan int, 100)
	ChBotDenied      = make(chan int, 50)
	ChAuthGranted    = make(chan int, 50)
	ChAuthDenied     = make(chan int, 50)
	ChSigninStarted  = make(chan int, 50)
	ChAnalysisOK     = make(chan int, 50)
	ChAnalysisFailed = make(chan int, 50)
	ChMealStored     = make(chan int, 50)
	ChLiveClients    = make(chan int, 20)
	ChTopDemandingIP = make(chan map[string]int, 2)
)

// Defined application metrics to track
var (
	reqsDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maaltijdplus",
		Subsystem: "http",
		Name:      "maaltijdplus_total_rate_limited_requests",
		Help:      "The total number of requests denied by the rate limiter",
	})

	botsDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maaltijdplus",
		Subsystem: "http",
		Name:      "maaltijdplus_total_bot_denied_requests",
		Help:      "The total number of requests denied by the bot filter",
	})

	authGranted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maaltijdplus",
		Subsystem: "access",
		Name:      "maaltijdplus_total_access_granted",
		Help:      "The total number of granted access decisions",
	})

	authDenied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maaltijdplus",
		Subsystem: "access",
		Name:      "maaltijdplus_total_access_denied",
		Help:      "The total number of denied access decisions",
	})

	signinStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maaltijdplus",
		Subsystem: "access",
		Name:      "maaltijdplus_total_signin_flows",
		Help:      "The total number of started sign-in flows",
	})

	analysisOK = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maaltijdplus",
		Subsystem: "vision",
		Name:      "maaltijdplus_total_analysis_completed",
		Help:      "The total number of completed photo analyses",
	})

	analysisFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maaltijdplus",
		Subsystem: "vision",
		Name:      "maaltijdplus_total_analysis_failed",
		Help:      "The total number of failed or rejected photo analyses",
	})

	mealsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maaltijdplus",
		Subsystem: "meals",
		Name:      "maaltijdplus_total_stored_meals",
		Help:      "The total number of meal records stored in the DB",
	})

	liveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "maaltijdplus",
		Subsystem: "live",
		Name:      "maaltijdplus_live_clients_active",
		Help:      "The number of connected live feed clients",
	})

	connsTopDemandingIP = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "maaltijdplus",
		Subsystem: "live",
		Name:      "maaltijdplus_top_demanding_ip",
		Help:      "The top demanding IP on number of connections",
	},
		[]string{
			"ip",
		})
)

func init() {
	recordAppMetrics()
	go resourceMetricsRunner()
}

func recordAppMetrics() {

	// Worker for tracking rate limited requests
	go func() {
		for range ChRequestDenied {
			reqsDenied.Inc()
		}
	}()

	// Worker for tracking requests denied by the bot filter
	go func() {
		for range ChBotDenied {
			botsDenied.Inc()
		}
	}()

	// Worker to track granted access decisions
	go func() {
		for range ChAuthGranted {
			authGranted.Inc()
		}
	}()

	// Worker to track denied access decisions
	go func() {
		for range ChAuthDenied {
			authDenied.Inc()
		}
	}()

	// Worker to track started sign-in flows
	go func() {
		for range ChSigninStarted {
			signinStarted.Inc()
		}
	}()

	// Worker to track completed photo analyses
	go func() {
		for range ChAnalysisOK {
			analysisOK.Inc()
		}
	}()

	// Worker to track failed photo analyses
	go func() {
		for range ChAnalysisFailed {
			analysisFailed.Inc()
		}
	}()

	// Worker to track stored meal records
	go func() {
		for range ChMealStored {
			mealsStored.Inc()
		}
	}()

	// Worker to track the number of connected live feed clients
	go func() {
		for v := range ChLiveClients {
			liveClients.Set(float64(v))
		}
	}()

	// Worker to track the most demanding IP address connecting to the feed
	go func() {
		for tdip := range ChTopDemandingIP {

			for ip, v := range tdip {
				connsTopDemandingIP.WithLabelValues(ip).Set(float64(v))
				break
			}
		}
	}()
}
