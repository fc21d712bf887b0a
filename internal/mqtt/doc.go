// Package mqtt makes Paavo appear as a Home Assistant device through MQTT
// discovery. On every broker (re-)connect it publishes retained sensor
// configs and an "online" birth message; a will flips availability to
// "offline" if the process drops off. Sensor states (uptime, last topic,
// last action, turn count, model reachability) are pushed periodically.
//
// Connection management is Eclipse Paho v2's [autopaho].
package mqtt
