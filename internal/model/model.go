// Package model содержит доменные сущности сервиса торгов.
package model

import "time"

// User представляет зарегистрированного участника мероприятия.
type User struct {
	ID                string
	Name              string
	IsTeamMember      bool
	Wallet            int64
	HasReceivedWallet bool
	RegisteredAt      time.Time
}

// Bid описывает ставку участника на проект. Имя и роль участника
// денормализуются в момент ставки и при смене роли не пересчитываются.
type Bid struct {
	UserID       string
	UserName     string
	Amount       int64
	IsTeamMember bool
	PlacedAt     time.Time
}

// Project описывает проект, на который принимаются ставки во время питча.
type Project struct {
	ID          string
	Name        string
	Description string
	Bids        []Bid
	CreatedAt   time.Time
}

// EventState содержит общее состояние мероприятия: окно регистрации
// и идентификатор проекта, питч которого идёт сейчас.
type EventState struct {
	RegistrationOpen      bool
	CurrentPitchID        *string
	RegistrationExpiresAt *time.Time
}

// ProjectStanding — агрегированная строка лидерборда по одному проекту.
type ProjectStanding struct {
	ProjectID   string
	ProjectName string
	TotalRaised int64
	BidderCount int
	Bids        []Bid
}
