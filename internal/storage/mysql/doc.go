// Package mysql reads caller credentials from MySQL at startup. The schema is
// owned by the credential issuer; the embedded migrations only create the
// table when it is missing so a fresh database can be seeded.
package mysql
