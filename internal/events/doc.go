// Package events turns committed flushes into outbound notifications.
//
// Each type here is a persistence.Listener registered on a Factory:
//
//   - Publisher sends every change as JSON over MQTT on
//     {prefix}/entity/{entity}/{op} and a summary on {prefix}/flush/{unit}.
//   - FlushRecorder writes flush and change points to InfluxDB.
//   - Relay pushes changes to websocket clients subscribed to
//     entity.changed.
//
// Listeners only run after commit, so a rolled-back flush is never
// announced. Delivery is best effort: failures are logged and dropped.
package events
