// Package container defines the backend abstraction over vendor installer
// containers: enumerating the BIOS capsule files bundled inside one
// installer and opening scoped, read-only handles to them.
//
// Two backends implement the abstraction: an optical disc image backend
// (subpackage iso) and a self-extracting installer backend (subpackage
// inno). The backend is chosen explicitly per run via Kind.
package container
