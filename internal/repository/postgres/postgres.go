package postgres

import (
	"database/sql"

	"rental-payments-backend/internal/repository"

	_ "github.com/lib/pq"
)

type Store struct {
	db *sql.DB
	repository.RentalRepository
	repository.ListingRepository
	repository.MemberRepository
	repository.WebhookEventRepository
	Locker repository.TransactionLocker
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:                     db,
		RentalRepository:       NewRentalRepository(db),
		ListingRepository:      NewListingRepository(db),
		MemberRepository:       NewMemberRepository(db),
		WebhookEventRepository: NewWebhookEventRepository(db),
		Locker:                 repository.ChainLocker{repository.NewLocalLocker(), NewAdvisoryLocker(db)},
	}
}
