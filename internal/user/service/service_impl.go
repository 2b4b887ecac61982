package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dairyroute/internal/clock"
	"github.com/smallbiznis/dairyroute/internal/geo"
	"github.com/smallbiznis/dairyroute/internal/orgcontext"
	"github.com/smallbiznis/dairyroute/internal/user/domain"
	"github.com/smallbiznis/dairyroute/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Geocoder geo.Geocoder `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	geocoder geo.Geocoder
}

func New(p Params) domain.Service {
	geocoder := p.Geocoder
	if geocoder == nil {
		geocoder = geo.NoopGeocoder{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("user.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		geocoder: geocoder,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return nil, domain.ErrInvalidPhone
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(string(req.Role))))
	if role == "" {
		role = domain.RoleCustomer
	}
	switch role {
	case domain.RoleCustomer, domain.RoleAgent, domain.RoleAdmin:
	default:
		return nil, domain.ErrInvalidRole
	}

	var email *string
	if req.Email != nil {
		if trimmed := strings.TrimSpace(*req.Email); trimmed != "" {
			email = &trimmed
		}
	}

	now := s.clock.Now()
	user := &domain.User{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Name:      name,
		Phone:     phone,
		Email:     email,
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertUser(ctx, s.db, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicatePhone
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	user, err := s.repo.FindUserByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrNotFound
	}
	return user, nil
}

func (s *Service) ListAgents(ctx context.Context, onlyAvailable bool) ([]domain.User, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListUsersByRole(ctx, s.db, orgID, domain.RoleAgent, onlyAvailable)
}

func (s *Service) SetAvailability(ctx context.Context, agentID string, available bool) (*domain.User, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	id, err := parseID(agentID)
	if err != nil {
		return nil, err
	}

	agent, err := s.repo.FindUserByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, domain.ErrNotFound
	}
	if agent.Role != domain.RoleAgent {
		return nil, domain.ErrNotAgent
	}
	now := s.clock.Now()
	if err := s.repo.UpdateAvailability(ctx, s.db, orgID, id, available, now); err != nil {
		return nil, err
	}
	agent.IsAvailable = available
	agent.UpdatedAt = now
	return agent, nil
}

// AvailableAgentIDs lists active agents that marked themselves available.
func (s *Service) AvailableAgentIDs(ctx context.Context) ([]snowflake.ID, error) {
	agents, err := s.ListAgents(ctx, true)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(agents))
	for _, agent := range agents {
		ids = append(ids, agent.ID)
	}
	return ids, nil
}

func (s *Service) AddAddress(ctx context.Context, req domain.CreateAddressRequest) (*domain.Address, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	userID, err := s.resolveOwner(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	owner, err := s.repo.FindUserByID(ctx, s.db, orgID, userID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, domain.ErrNotFound
	}

	line1 := strings.TrimSpace(req.Line1)
	city := strings.TrimSpace(req.City)
	pincode := strings.TrimSpace(req.Pincode)
	if line1 == "" || city == "" || pincode == "" {
		return nil, domain.ErrInvalidAddress
	}
	if (req.Lat == nil) != (req.Lng == nil) {
		return nil, domain.ErrInvalidCoordinates
	}
	if req.Lat != nil && (*req.Lat < -90 || *req.Lat > 90 || *req.Lng < -180 || *req.Lng > 180) {
		return nil, domain.ErrInvalidCoordinates
	}

	now := s.clock.Now()
	address := &domain.Address{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		Label:     strings.TrimSpace(req.Label),
		Line1:     line1,
		Line2:     req.Line2,
		City:      city,
		Pincode:   pincode,
		Lat:       req.Lat,
		Lng:       req.Lng,
		IsDefault: req.IsDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, located := address.Point(); !located {
		point, err := s.geocoder.Geocode(ctx, address.FullText())
		switch {
		case err == nil:
			address.Lat = &point.Lat
			address.Lng = &point.Lng
		case errors.Is(err, geo.ErrAddressNotFound):
			s.log.Info("address left unlocated", zap.String("address_id", address.ID.String()))
		default:
			s.log.Warn("geocoding failed", zap.String("address_id", address.ID.String()), zap.Error(err))
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if address.IsDefault {
			if err := s.repo.ClearDefaultAddress(ctx, tx, orgID, userID); err != nil {
				return err
			}
		}
		return s.repo.InsertAddress(ctx, tx, address)
	})
	if err != nil {
		return nil, err
	}
	return address, nil
}

func (s *Service) GetAddress(ctx context.Context, id snowflake.ID) (*domain.Address, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	address, err := s.repo.FindAddressByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if address == nil {
		return nil, domain.ErrAddressNotFound
	}
	return address, nil
}

func (s *Service) ListAddresses(ctx context.Context, userID snowflake.ID) ([]domain.Address, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.ListAddressesByUser(ctx, s.db, orgID, userID)
}

func (s *Service) AddressesByID(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]domain.Address, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	addresses, err := s.repo.FindAddressesByIDs(ctx, s.db, orgID, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]domain.Address, len(addresses))
	for _, address := range addresses {
		out[address.ID] = address
	}
	return out, nil
}

// resolveOwner lets privileged callers act for another user; everyone else
// is pinned to the authenticated user.
func (s *Service) resolveOwner(ctx context.Context, raw string) (snowflake.ID, error) {
	if orgcontext.IsPrivileged(ctx) && strings.TrimSpace(raw) != "" {
		return parseID(raw)
	}
	if actor, ok := orgcontext.UserIDFromContext(ctx); ok {
		return actor, nil
	}
	return parseID(raw)
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
