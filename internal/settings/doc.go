// Package settings persists the node's device settings in SQLite.
//
// The Store is the runtime source of truth for identity (node and group
// name), WiFi credentials, broker endpoint and credentials, and the portal
// operator account. Factory defaults come from the device section of the
// YAML configuration and are used for any key never saved.
//
// Reads are served from an in-memory copy guarded by a RWMutex so the run
// loop never touches the database. Updates are validated, written in one
// transaction, applied to the copy, and announced on the Changes channel.
//
// Passwords:
//   - WiFi and broker passwords are stored as given; they must be presented
//     to the access point and broker.
//   - The portal password is stored as an Argon2id PHC hash.
//   - Mask ("********") in an update keeps the stored password.
package settings
