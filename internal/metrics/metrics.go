package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database metrics
var (
	// DBQueriesTotal tracks the total number of database queries
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"query_type", "table", "status"},
	)

	// DBQueryDuration tracks the duration of database queries
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type", "table"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of established connections both in use and idle",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle connections",
		},
	)
)

// Control loop metrics
var (
	ControlTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bathguard_control_ticks_total",
			Help: "Control ticks processed per automation",
		},
		[]string{"automation", "status"},
	)

	ControlTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bathguard_control_tick_duration_seconds",
			Help:    "Duration of a full collect/process/execute tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"automation"},
	)

	// ActuatorCommandsTotal counts commands sent to devices
	ActuatorCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bathguard_actuator_commands_total",
			Help: "Actuator commands sent to the platform",
		},
		[]string{"automation", "action", "status"},
	)

	SensorReadFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bathguard_sensor_read_failures_total",
			Help: "Sensor reads that failed or timed out",
		},
		[]string{"automation", "sensor"},
	)

	HumidityPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bathguard_humidity_percent",
			Help: "Last relative humidity reading",
		},
		[]string{"automation"},
	)

	TemperatureCelsius = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bathguard_temperature_celsius",
			Help: "Last temperature reading",
		},
		[]string{"automation"},
	)

	MoldRiskScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bathguard_mold_risk_score",
			Help: "Mold risk score from 0 to 1",
		},
		[]string{"automation"},
	)

	DehumidifierRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bathguard_dehumidifier_running",
			Help: "1 while the dehumidifier is believed to be on",
		},
		[]string{"automation"},
	)

	ShowerEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bathguard_shower_events_total",
			Help: "Shower events opened",
		},
		[]string{"automation"},
	)

	LearnedThresholdConfidence = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bathguard_learned_threshold_confidence",
			Help: "Confidence of the latest learned threshold proposal",
		},
		[]string{"automation"},
	)

	// AppStartTime records when the application started
	AppStartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bathguard_app_start_time_seconds",
			Help: "Unix timestamp of when the application started",
		},
	)
)

func init() {
	AppStartTime.SetToCurrentTime()
}

// RecordDBQuery records a database query execution
func RecordDBQuery(queryType, table string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DBQueriesTotal.WithLabelValues(queryType, table, status).Inc()
	DBQueryDuration.WithLabelValues(queryType, table).Observe(duration.Seconds())
}

// UpdateDBConnectionStats updates database connection pool statistics
func UpdateDBConnectionStats(open, inUse, idle int) {
	DBConnectionsOpen.Set(float64(open))
	DBConnectionsInUse.Set(float64(inUse))
	DBConnectionsIdle.Set(float64(idle))
}

// RecordTick records one control tick
func RecordTick(automation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ControlTicksTotal.WithLabelValues(automation, status).Inc()
	ControlTickDuration.WithLabelValues(automation).Observe(duration.Seconds())
}

// RecordCommand records an actuator command outcome
func RecordCommand(automation, action string, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	ActuatorCommandsTotal.WithLabelValues(automation, action, status).Inc()
}

func RecordSensorReadFailure(automation, sensor string) {
	SensorReadFailuresTotal.WithLabelValues(automation, sensor).Inc()
}

// ObserveClimate updates the per-automation gauges; nil values are left untouched
func ObserveClimate(automation string, humidity, temperature *float64, riskScore *float64, dehumidifierOn bool) {
	if humidity != nil {
		HumidityPercent.WithLabelValues(automation).Set(*humidity)
	}
	if temperature != nil {
		TemperatureCelsius.WithLabelValues(automation).Set(*temperature)
	}
	if riskScore != nil {
		MoldRiskScore.WithLabelValues(automation).Set(*riskScore)
	}
	running := 0.0
	if dehumidifierOn {
		running = 1
	}
	DehumidifierRunning.WithLabelValues(automation).Set(running)
}
