// Package influxdb records node telemetry to an InfluxDB v2 server.
//
// Recording is optional and off by default. When enabled, every heartbeat
// status document and every link/session transition becomes a point, which
// gives a fleet-wide history of signal quality and reconnect storms that the
// retained MQTT topics cannot.
//
//	influxdb:
//	  enabled: true
//	  url: "http://influx.local:8086"
//	  org: "graylogic"
//	  bucket: "nodes"
package influxdb
