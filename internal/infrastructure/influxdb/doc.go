// Package influxdb records Gray ORM persistence metrics in InfluxDB.
//
// Each committed flush becomes one orm_flush point tagged with its
// persistence unit, followed by one orm_change point per entity type and
// operation carrying the row count. Writes go through the
// non-blocking batched write API; batch errors are delivered to the
// callback registered with SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics are optional
//	}
//	defer client.Close()
//
//	client.WriteFlushMetric(influxdb.FlushMetric{Unit: "staff", Inserts: 3})
//	recorded, dropped := client.Stats()
package influxdb
