package webservice

// ReceiveParams are the fields of local_mahoodle_receive_mahara_notifications.
type ReceiveParams struct {
	Token    string `url:"wstoken"`
	Format   string `url:"moodlewsrestformat"`
	Function string `url:"wsfunction"`
	Username string `url:"username"`
	NotifyID int64  `url:"maharanotifyid"`
	Subject  string `url:"subject"`
	Body     string `url:"body"`
	MnetHost string `url:"mnethost"`
	Type     string `url:"type"`
}

// ChangeParams are the fields of the read and delete functions. NotifyIDs is
// a comma separated id list.
type ChangeParams struct {
	Token     string `url:"wstoken"`
	Format    string `url:"moodlewsrestformat"`
	Function  string `url:"wsfunction"`
	NotifyIDs string `url:"maharanotifyid"`
	MnetHost  string `url:"mnethost"`
	Type      string `url:"type"`
}
