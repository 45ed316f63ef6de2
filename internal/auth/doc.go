// Package auth implements HTTP Basic authentication for the site.
//
// Credentials come from two sources that are merged at startup: an
// htpasswd-style credential file (BASIC_AUTH_FILE) and a single
// user/password pair from the environment (BASIC_AUTH_USER and
// BASIC_AUTH_PASSWORD). The resulting Store is immutable; requests are
// checked against it by the Gate middleware.
//
// Supported hash algorithms are bcrypt ($2a$, $2b$, $2y$ prefixes) and
// argon2id in PHC string format. Environment-supplied passwords are
// hashed with argon2id at startup so plaintext never outlives process
// initialization.
package auth
