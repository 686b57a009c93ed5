/*
# XChat Services Package

The services package provides the HTTP deployment surface of XChat: the
development ledger, the secret disclosure service, and the client-side
adapters that present them through the protocol package's interfaces.

## Components

### Ledger Service

`LedgerService` (`ledger_service.go`) is an append-only message log with the
same observable behavior as the public ledger: server-assigned ordering,
dense per-group sequence numbers, unique log identities, and join-only
membership enforcement. Endpoints:

  - `POST /api/v1/groups` - Append a signed group creation
  - `GET  /api/v1/groups` - List all groups
  - `GET  /api/v1/groups/{id}` - Read one group
  - `POST /api/v1/groups/{id}/join` - Append a signed membership join
  - `GET  /api/v1/groups/{id}/members/{principal}` - Membership check
  - `POST /api/v1/groups/{id}/messages` - Append a signed message
  - `GET  /api/v1/groups/{id}/messages?from=&to=` - Paged range read
  - `GET  /api/v1/groups/{id}/events` - Live record stream (SSE)

Reads are open to anyone; ciphertext confidentiality comes from the message
codec, not from access control.

### Disclosure Service

`DisclosureService` (`disclosure_service.go`) guards group secrets. Secrets
enter at group creation and leave only through a reveal against a signed,
time-bounded authorization plus an entitlement policy. Endpoints:

  - `POST /disclosure/v1/secrets` - Store a fresh secret, returns a handle
  - `POST /disclosure/v1/secrets/{handle}/reveal` - Disclose the secret

`MembershipPolicy` entitles exactly the members of the group carrying the
handle on the ledger.

### Client Adapters

`HTTPLedger` and `HTTPDisclosure` implement the protocol package's Ledger
and SecretDisclosure interfaces over HTTP. Transport failures surface as
protocol.ErrUnavailable so the reconciler's retry policy applies; protocol
conditions come back as their sentinel errors.

### Stores

`LedgerStore` and `SecretStore` (`store.go`) abstract persistence.
`PostgresStore` (`postgres_store.go`) persists to PostgreSQL;
`InMemoryStore` serves tests and single-process demos.

## Usage

	store := services.NewInMemoryStore()
	ledgerSvc := services.NewLedgerService(store, log)
	disclosureSvc := services.NewDisclosureService(store,
		&services.MembershipPolicy{Ledger: store}, log)

	srv, _ := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr: ":8080",
		Log:        log,
	}, ledgerSvc, disclosureSvc)
	srv.RunInBackground()

Clients connect through the adapters:

	ledger := services.NewHTTPLedger("http://localhost:8080", log)
	disclosure := services.NewHTTPDisclosure("http://localhost:8080", log)
	state, _ := protocol.NewGroupState(ledger, disclosure, signer, nil, log)
*/
package services
