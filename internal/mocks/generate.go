package mocks

//go:generate mockgen -package=mocks -destination=records_mock.go github.com/target/portal-identity/internal/ports ProfileStore,RoleStore,InstitutionStore
