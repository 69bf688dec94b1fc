// Package command interprets messages arriving on the node's
// subscriptions and carries out the matching action.
//
// Recognised topics, for both the node and its group:
//
//	<prefix>/<id>/command                 empty payload: status request
//	<prefix>/<id>/command/statusupdate    status request
//	<prefix>/<id>/command/reboot          device reset
//	<prefix>/<id>/command/factoryreset    wipe settings, then reset
//	<prefix>/<node>/status                payload OFF: republish ON
//
// Anything else on a command topic is handed to the passthrough consumer.
// Commands are not deduplicated: the same message twice acts twice.
package command
