package v1

import (
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "valid ping", env: Envelope{V: Version, Kind: KindPing, ID: "01A", TS: now}},
		{name: "valid addFriend", env: Envelope{V: Version, Kind: KindAddFriend, ID: "01B", TS: now}},
		{name: "missing v", env: Envelope{Kind: KindPing}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v0", Kind: KindPing}, wantErr: true},
		{name: "missing kind", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown kind", env: Envelope{V: Version, Kind: "shoutIntoVoid"}, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.env.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("Validate()=nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate()=%v, want nil", err)
			}
		})
	}
}

func TestAllowedKindsCoversConstants(t *testing.T) {
	t.Parallel()

	for _, k := range []string{
		KindHello, KindPing, KindDataSync, KindEventSync, KindEventStream,
		KindMarkEvents, KindAddFriend, KindAcceptRequest, KindDeclineRequest,
		KindCancelRequest, KindRemoveFriend, KindBlockUser, KindUnblockUser,
		KindSendReport, KindProfileUpdated, KindProfilePictureUpdated,
		KindStatusChanged, KindGetKnownProfile, KindGetKnownProfilePicture,
		KindGetFriendStatus, KindGetAllKnownProfiles, KindGetAllFriendStatus,
		KindHelloAck, KindPong, KindAck, KindEvent, KindStatus, KindProfile,
		KindProfileList, KindStatusList, KindError, KindForceDisconnect,
	} {
		if _, ok := AllowedKinds[k]; !ok {
			t.Fatalf("kind %q missing from AllowedKinds", k)
		}
	}
}
