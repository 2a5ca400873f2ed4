package proto

// SIDCarrier is implemented by every SFTP control message; it lets
// relay routing forward messages by SID without one case per message
// type.
type SIDCarrier interface {
	SIDValue() string
}

func (m *SFTPList) SIDValue() string                  { return m.SID }
func (m *SFTPListItems) SIDValue() string             { return m.SID }
func (m *SFTPDownloadStart) SIDValue() string         { return m.SID }
func (m *SFTPDownloadStartResponse) SIDValue() string { return m.SID }
func (m *SFTPDownloadChunk) SIDValue() string         { return m.SID }
func (m *SFTPUploadStart) SIDValue() string           { return m.SID }
func (m *SFTPUploadStartResponse) SIDValue() string   { return m.SID }
func (m *SFTPUploadChunk) SIDValue() string           { return m.SID }
func (m *SFTPUploadChunkAck) SIDValue() string        { return m.SID }
func (m *SFTPDelete) SIDValue() string                { return m.SID }
func (m *Ok) SIDValue() string                        { return m.SID }
