package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"

	"roomsync/domain"
	"roomsync/domain/event"
	"roomsync/errors"
)

type testChatSessionSuite struct {
	BaseSessionSuite
}

func TestChatSessionSuite(t *testing.T) {
	suite.Run(t, &testChatSessionSuite{})
}

const lobby = domain.RoomID("lobby")

func (s *testChatSessionSuite) textMessages(c *Client, roomID domain.RoomID) []domain.Message {
	return lo.Filter(c.Session.History(roomID), func(m domain.Message, _ int) bool {
		return m.Kind == domain.KindText
	})
}

func (s *testChatSessionSuite) TestFullChatFlow() {
	s.Step("Register and connect two users")
	ann := s.NewClient("ann", "ann-password-1")
	bob := s.NewClient("bob", "bob-password-1")
	s.Connect(ann)
	s.Connect(bob)

	s.Step("Join the lobby")
	s.Require().NoError(ann.Session.JoinRoom(lobby))
	s.Require().NoError(bob.Session.JoinRoom(lobby))

	s.Step("Presence converges on both sides")
	s.Require().Eventually(func() bool {
		return len(ann.Session.Members(lobby)) == 2 && len(bob.Session.Members(lobby)) == 2
	}, s.Config.StepTimeout, 50*time.Millisecond, "member lists never converged")

	s.Step("Exchange messages")
	s.Require().NoError(ann.Session.SendMessage(lobby, "hello from ann"))
	s.Require().Eventually(func() bool {
		return len(s.textMessages(ann, lobby)) == 1 && len(s.textMessages(bob, lobby)) == 1
	}, s.Config.StepTimeout, 50*time.Millisecond, "message never reached both clients")

	received := s.textMessages(bob, lobby)[0]
	s.Require().Equal("hello from ann", received.Content)
	s.Require().Equal("ann", received.SenderName)
	s.Require().NotEmpty(received.ID)

	s.Require().NoError(bob.Session.SendMessage(lobby, "hi ann"))
	s.Require().Eventually(func() bool {
		return len(s.textMessages(ann, lobby)) == 2
	}, s.Config.StepTimeout, 50*time.Millisecond, "reply never arrived")

	// Both clients observe the same text sequence in the same order.
	annTexts := s.textMessages(ann, lobby)
	s.Require().Equal("hello from ann", annTexts[0].Content)
	s.Require().Equal("hi ann", annTexts[1].Content)

	s.Step("Leaving announces the departure to the room")
	s.Require().NoError(ann.Session.LeaveRoom(lobby))
	s.Require().Eventually(func() bool {
		return len(bob.Session.Members(lobby)) == 1
	}, s.Config.StepTimeout, 50*time.Millisecond, "departure never observed")

	history := bob.Session.History(lobby)
	last := history[len(history)-1]
	s.Require().Equal(domain.KindSystem, last.Kind)
	s.Require().Equal("ann left the room.", last.Content)

	// The leaver's local state dropped immediately.
	s.Require().Empty(ann.Session.Members(lobby))
	s.Require().ErrorIs(ann.Session.SendMessage(lobby, "too late"), errors.ErrNotConnected)
}

func (s *testChatSessionSuite) TestReconnectKeepsHistoryButNotMembership() {
	s.Step("Connect and join")
	ann := s.NewClient("ann", "ann-password-1")
	s.Connect(ann)
	s.Require().NoError(ann.Session.JoinRoom(lobby))

	s.Require().NoError(ann.Session.SendMessage(lobby, "before the drop"))
	s.Require().Eventually(func() bool {
		return len(s.textMessages(ann, lobby)) == 1
	}, s.Config.StepTimeout, 50*time.Millisecond, "message never echoed back")

	s.Step("Server drops every connection")
	s.Backend.DropConnections()
	s.AwaitEvent(ann, func(evt event.SessionEvent) bool {
		_, ok := evt.(event.ConnectionClosed)
		return ok
	}, "drop never observed")
	s.AwaitEvent(ann, func(evt event.SessionEvent) bool {
		_, ok := evt.(event.ConnectionOpened)
		return ok
	}, "client never reconnected")
	s.Require().Equal(domain.Connected, ann.Session.ConnectionState())

	s.Step("Membership did not survive the reconnect")
	s.Require().ErrorIs(ann.Session.SendMessage(lobby, "phantom"), errors.ErrNotConnected)
	s.Require().Len(s.textMessages(ann, lobby), 1, "history must survive the drop")

	s.Step("An explicit rejoin restores the room")
	s.Require().NoError(ann.Session.JoinRoom(lobby))
	s.Require().NoError(ann.Session.SendMessage(lobby, "after the drop"))
	s.Require().Eventually(func() bool {
		return len(s.textMessages(ann, lobby)) == 2
	}, s.Config.StepTimeout, 50*time.Millisecond, "post-rejoin message never arrived")
}

func (s *testChatSessionSuite) TestRejectedRefreshForcesLogout() {
	s.Step("Register a user")
	ann := s.NewClient("ann", "ann-password-1")
	s.Require().True(ann.Auth.IsAuthenticated())

	s.Step("Backend starts rejecting refreshes")
	s.Backend.RejectRefresh(true)

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.StepTimeout)
	defer cancel()
	_, err := ann.Auth.Refresh(ctx)
	s.Require().ErrorIs(err, errors.ErrRefreshRejected)

	s.Step("The session is terminated locally")
	s.Require().False(ann.Auth.IsAuthenticated())
	_, ok := ann.Auth.Credential()
	s.Require().False(ok)

	_, err = ann.Auth.Refresh(ctx)
	s.Require().ErrorIs(err, errors.ErrNotAuthenticated)

	s.Require().ErrorIs(ann.Session.Connect(ctx), errors.ErrNotAuthenticated)
}

func (s *testChatSessionSuite) TestLoginLifecycle() {
	s.Step("Register, log out, and come back")
	ann := s.NewClient("ann", "ann-password-1")
	ann.Auth.Logout()
	s.Require().False(ann.Auth.IsAuthenticated())

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.StepTimeout)
	defer cancel()

	_, err := ann.Auth.Login(ctx, "ann", "wrong-password-1")
	s.Require().ErrorIs(err, errors.ErrInvalidCredentials)
	s.Require().False(ann.Auth.IsAuthenticated())

	identity, err := ann.Auth.Login(ctx, "ann", "ann-password-1")
	s.Require().NoError(err)
	s.Require().Equal("ann", identity.Username)

	s.Step("The session proves itself by refreshing")
	s.Require().True(ann.Auth.CheckAuthStatus(ctx))
	s.Require().True(ann.Auth.IsAuthenticated())
}
